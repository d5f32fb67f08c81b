package session

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/mzalendo/darasa/core"
)

// ContentType tags a Content and selects its payload variant.
type ContentType string

const (
	TypeVideo       ContentType = "video"
	TypeDocument    ContentType = "document"
	TypeLiveSession ContentType = "live_session"
	TypeQuiz        ContentType = "quiz"
	TypeAssignment  ContentType = "assignment"
	TypeNotebook    ContentType = "notebook"
	TypeExercise    ContentType = "exercise"
)

var ContentTypes = []ContentType{
	TypeVideo, TypeDocument, TypeLiveSession, TypeQuiz, TypeAssignment, TypeNotebook, TypeExercise,
}

// Payload is the closed tagged union of per-type content payloads.
// No two types share a payload shape; a Content's payload must never be
// absent or of the wrong variant for its type.
type Payload interface {
	Type() ContentType
	Validate() error
}

type (
	VideoPayload struct {
		URL       string `json:"url" validate:"required,url"`
		Provider  string `json:"provider,omitempty"`
		Captions  bool   `json:"captions,omitempty"`
		Thumbnail string `json:"thumbnail,omitempty"`
	}

	DocumentPayload struct {
		URL      string `json:"url" validate:"required,url"`
		Format   string `json:"format" validate:"required"`
		Pages    int    `json:"pages,omitempty" validate:"omitempty,gte=0"`
		Download bool   `json:"download,omitempty"`
	}

	LiveSessionPayload struct {
		MeetingURL  string    `json:"meeting_url" validate:"required,url"`
		ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
		Recorded    bool      `json:"recorded,omitempty"`
	}

	QuizQuestion struct {
		Prompt  string   `json:"prompt" validate:"required"`
		Choices []string `json:"choices" validate:"required,min=2"`
		Answer  int      `json:"answer" validate:"gte=0"`
		Points  int      `json:"points,omitempty" validate:"omitempty,gte=0"`
	}

	QuizPayload struct {
		Questions    []QuizQuestion `json:"questions" validate:"required,min=1,dive"`
		PassingScore int            `json:"passing_score" validate:"gte=0,lte=100"`
		TimeLimit    int            `json:"time_limit,omitempty" validate:"omitempty,gte=0"` // minutes
		MaxAttempts  int            `json:"max_attempts,omitempty" validate:"omitempty,gte=0"`
	}

	AssignmentPayload struct {
		Instructions   string    `json:"instructions" validate:"required"`
		DueAt          time.Time `json:"due_at,omitempty"`
		MaxPoints      int       `json:"max_points" validate:"gt=0"`
		AllowedFormats []string  `json:"allowed_formats,omitempty"`
	}

	NotebookPayload struct {
		NotebookURL string `json:"notebook_url" validate:"required,url"`
		Kernel      string `json:"kernel" validate:"required"`
	}

	ExercisePayload struct {
		Prompt      string `json:"prompt" validate:"required"`
		Language    string `json:"language" validate:"required"`
		StarterCode string `json:"starter_code,omitempty"`
		TestSuite   string `json:"test_suite,omitempty"`
	}
)

func (p VideoPayload) Type() ContentType       { return TypeVideo }
func (p DocumentPayload) Type() ContentType    { return TypeDocument }
func (p LiveSessionPayload) Type() ContentType { return TypeLiveSession }
func (p QuizPayload) Type() ContentType        { return TypeQuiz }
func (p AssignmentPayload) Type() ContentType  { return TypeAssignment }
func (p NotebookPayload) Type() ContentType    { return TypeNotebook }
func (p ExercisePayload) Type() ContentType    { return TypeExercise }

func (p VideoPayload) Validate() error       { return core.Validate.Struct(p) }
func (p DocumentPayload) Validate() error    { return core.Validate.Struct(p) }
func (p LiveSessionPayload) Validate() error { return core.Validate.Struct(p) }
func (p QuizPayload) Validate() error        { return core.Validate.Struct(p) }
func (p AssignmentPayload) Validate() error  { return core.Validate.Struct(p) }
func (p NotebookPayload) Validate() error    { return core.Validate.Struct(p) }
func (p ExercisePayload) Validate() error    { return core.Validate.Struct(p) }

// DecodePayload decodes raw into the variant selected by t; used by storage
// layers that persist payloads as raw JSON.
func DecodePayload(t ContentType, raw []byte) (Payload, error) {
	return decodePayload(t, raw)
}

// decodePayload decodes raw into the variant selected by t. Unknown fields are
// rejected so that a payload of the wrong variant cannot silently pass as an
// empty value of the right one.
func decodePayload(t ContentType, raw []byte) (Payload, error) {
	var payload Payload
	switch t {
	case TypeVideo:
		payload = &VideoPayload{}
	case TypeDocument:
		payload = &DocumentPayload{}
	case TypeLiveSession:
		payload = &LiveSessionPayload{}
	case TypeQuiz:
		payload = &QuizPayload{}
	case TypeAssignment:
		payload = &AssignmentPayload{}
	case TypeNotebook:
		payload = &NotebookPayload{}
	case TypeExercise:
		payload = &ExercisePayload{}
	default:
		return nil, errors.Errorf("unknown content type %q", t)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, errors.Wrapf(err, "decoding %s payload", t)
	}
	return deref(payload), nil
}

// deref returns the value variant so payloads compare and marshal by value.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *VideoPayload:
		return *v
	case *DocumentPayload:
		return *v
	case *LiveSessionPayload:
		return *v
	case *QuizPayload:
		return *v
	case *AssignmentPayload:
		return *v
	case *NotebookPayload:
		return *v
	case *ExercisePayload:
		return *v
	}
	return p
}
