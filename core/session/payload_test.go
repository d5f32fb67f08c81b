package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mzalendo/darasa/core"
)

func TestDecodePayload_variantPerType(t *testing.T) {
	tests := []struct {
		name    string
		typ     ContentType
		raw     string
		wantErr bool
	}{
		{"video", TypeVideo, `{"url": "https://videos.test/v1", "captions": true}`, false},
		{"document", TypeDocument, `{"url": "https://docs.test/d1.pdf", "format": "pdf", "pages": 12}`, false},
		{"quiz", TypeQuiz, `{"questions": [{"prompt": "2+2?", "choices": ["3", "4"], "answer": 1}], "passing_score": 70}`, false},
		{"notebook", TypeNotebook, `{"notebook_url": "https://nb.test/n1.ipynb", "kernel": "python3"}`, false},
		{"exercise", TypeExercise, `{"prompt": "reverse a list", "language": "go"}`, false},
		{"unknown type", ContentType("podcast"), `{}`, true},
		{"wrong variant for tag", TypeQuiz, `{"url": "https://videos.test/v1"}`, true},
		{"malformed json", TypeVideo, `{"url": `, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := decodePayload(tt.typ, []byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Errorf("decodePayload(%s) should have failed", tt.typ)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodePayload(%s): %v", tt.typ, err)
			}
			if p.Type() != tt.typ {
				t.Errorf("payload type = %s; want %s", p.Type(), tt.typ)
			}
		})
	}
}

func TestNewContent_rejectsMismatchedPayload(t *testing.T) {
	raw, _ := json.Marshal(VideoPayload{URL: "https://videos.test/v1"})
	nc := NewContent{
		SessionID:   "ses1",
		Type:        TypeQuiz,
		Title:       "Checkpoint",
		AccessLevel: AccessFree,
		Payload:     raw,
	}
	err := nc.Validate()
	if !core.IsValidationError(err) {
		t.Fatalf("Validate() err = %v; want ValidationError", err)
	}
}

func TestNewContent_decodesMatchingPayload(t *testing.T) {
	raw := []byte(`{"questions": [{"prompt": "2+2?", "choices": ["3", "4"], "answer": 1, "points": 5}], "passing_score": 70, "time_limit": 15}`)
	nc := NewContent{
		SessionID:   "ses1",
		Type:        TypeQuiz,
		Title:       "Checkpoint",
		AccessLevel: AccessPremium,
		Payload:     raw,
	}
	if err := nc.Validate(); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
	quiz, ok := nc.DecodedPayload().(QuizPayload)
	if !ok {
		t.Fatalf("payload is %T; want QuizPayload", nc.DecodedPayload())
	}
	if len(quiz.Questions) != 1 || quiz.PassingScore != 70 || quiz.TimeLimit != 15 {
		t.Errorf("decoded quiz = %+v", quiz)
	}
}

func TestNewContent_validatesPayloadFields(t *testing.T) {
	// empty questions list fails the payload's own rules
	raw := []byte(`{"questions": [], "passing_score": 70}`)
	nc := NewContent{
		SessionID:   "ses1",
		Type:        TypeQuiz,
		Title:       "Checkpoint",
		AccessLevel: AccessFree,
		Payload:     raw,
	}
	if err := nc.Validate(); err == nil {
		t.Fatal("Validate() should reject a quiz without questions")
	}
}

func TestContent_unmarshalRoundTrip(t *testing.T) {
	orig := Content{
		ID:          "cnt1",
		SessionID:   "ses1",
		Type:        TypeLiveSession,
		Title:       "Office hours",
		AccessLevel: AccessFree,
		Payload: LiveSessionPayload{
			MeetingURL:  "https://meet.test/m1",
			ScheduledAt: time.Date(2021, 3, 1, 15, 0, 0, 0, time.UTC),
			Recorded:    true,
		},
	}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal(): %v", err)
	}
	var got Content
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal(): %v", err)
	}
	live, ok := got.Payload.(LiveSessionPayload)
	if !ok {
		t.Fatalf("payload is %T; want LiveSessionPayload", got.Payload)
	}
	if live != orig.Payload.(LiveSessionPayload) {
		t.Errorf("payload = %+v; want %+v", live, orig.Payload)
	}
}

func TestContent_unmarshalRequiresPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"absent payload", `{"id": "cnt1", "session_id": "ses1", "type": "video", "title": "Intro"}`},
		{"null payload", `{"id": "cnt1", "session_id": "ses1", "type": "video", "title": "Intro", "payload": null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			if err := json.Unmarshal([]byte(tt.raw), &c); err == nil {
				t.Error("Unmarshal() should reject a content without a payload")
			}
		})
	}
}

func TestSession_duplicate(t *testing.T) {
	sess := seedSession(t, "crs1", 2)
	sess.Status = StatusPublished
	sess.EnrollmentCount = 42
	sess.CompletionRate = 0.5
	sess.AverageScore = 71

	dup := sess.Duplicate()
	if dup.ID == sess.ID {
		t.Error("duplicate kept the original id")
	}
	if dup.Title != sess.Title+" (copy)" {
		t.Errorf("title = %q", dup.Title)
	}
	if dup.Status != StatusDraft {
		t.Errorf("status = %s; want draft", dup.Status)
	}
	if dup.EnrollmentCount != 0 || dup.CompletionRate != 0 || dup.AverageScore != 0 {
		t.Error("stats must be zeroed")
	}
	for i, c := range dup.Contents {
		if c.ID == sess.Contents[i].ID || c.SessionID != dup.ID {
			t.Errorf("contents[%d] = (%s, %s); want fresh id owned by %s", i, c.ID, c.SessionID, dup.ID)
		}
	}
}

func TestSession_estimatedDuration(t *testing.T) {
	sess := seedSession(t, "crs1", 3) // 3 x 10min
	if got := sess.EstimatedDuration(); got != 30 {
		t.Errorf("EstimatedDuration() = %d; want 30", got)
	}
}

func TestSession_marshalExposesEstimatedDuration(t *testing.T) {
	sess := seedSession(t, "crs1", 3) // 3 x 10min
	data, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("Marshal(): %v", err)
	}
	var out map[string]interface{}
	if err = json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal(): %v", err)
	}
	if got, ok := out["estimated_duration"].(float64); !ok || int(got) != 30 {
		t.Errorf("estimated_duration = %v; want 30", out["estimated_duration"])
	}
}

func TestUpdateSession_archivedIsTerminal(t *testing.T) {
	sess := seedSession(t, "crs1", 0)
	sess.Status = StatusArchived
	us := UpdateSession{Status: StatusPublished}
	if _, err := us.apply(sess); err != ErrArchived {
		t.Errorf("apply() err = %v; want ErrArchived", err)
	}
}
