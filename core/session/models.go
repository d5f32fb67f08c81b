package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mzalendo/darasa/core"
)

// Session statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived" // terminal
)

// Access levels
const (
	AccessFree    = "free"
	AccessPremium = "premium"
)

var (
	// errors
	ErrNotFound        = errors.New("session not found")
	ErrContentNotFound = errors.New("session content not found")
	ErrArchived        = errors.New("an archived session can no longer be modified")
)

type (
	// Content is a single piece of session content. Its Payload shape is fully
	// determined by Type (closed tagged union); renderers never mutate fields
	// directly, all mutations go through the Store.
	Content struct {
		ID          string      `json:"id"`
		SessionID   string      `json:"session_id"`
		Type        ContentType `json:"type"`
		Title       string      `json:"title"`
		Description string      `json:"description,omitempty"`
		Order       int         `json:"order"`
		AccessLevel string      `json:"access_level"`
		Duration    int         `json:"duration,omitempty"` // minutes
		IsFree      bool        `json:"is_free"`
		Payload     Payload     `json:"payload"`
		CreatedAt   time.Time   `json:"created_at"` // UTC
		UpdatedAt   time.Time   `json:"updated_at"` // UTC
	}

	// Session owns its Contents exclusively; deleting a Session cascades to them.
	Session struct {
		ID            string    `json:"id"`
		CourseID      string    `json:"course_id,omitempty"`
		Title         string    `json:"title"`
		Description   string    `json:"description,omitempty"`
		Order         int       `json:"order"`
		Status        string    `json:"status"`
		AccessLevel   string    `json:"access_level"`
		Contents      []Content `json:"contents"`
		Objectives    []string  `json:"objectives,omitempty"`
		Tags          []string  `json:"tags,omitempty"`
		Prerequisites []string  `json:"prerequisites,omitempty"` // Session ids; cycle-free

		// engagement stats; zeroed on duplication
		EnrollmentCount int     `json:"enrollment_count"`
		CompletionRate  float64 `json:"completion_rate,omitempty"`
		AverageScore    float64 `json:"average_score,omitempty"`

		CreatedAt time.Time `json:"created_at"` // UTC
		UpdatedAt time.Time `json:"updated_at"` // UTC
	}

	// Attempt is an append-only submission record; once created only a grade
	// may be attached.
	Attempt struct {
		ID            string          `json:"id"`
		ContentID     string          `json:"content_id"`
		StudentID     string          `json:"student_id"`
		AttemptNumber int             `json:"attempt_number"`
		Answers       json.RawMessage `json:"answers,omitempty"`
		Score         *float64        `json:"score,omitempty"`
		Grade         *float64        `json:"grade,omitempty"`
		SubmittedAt   time.Time       `json:"submitted_at"` // UTC
	}
)

// EstimatedDuration derives the session duration as the sum of its contents'.
func (s *Session) EstimatedDuration() int {
	var total int
	for _, c := range s.Contents {
		total += c.Duration
	}
	return total
}

// MarshalJSON exposes the derived duration alongside the stored fields.
func (s Session) MarshalJSON() ([]byte, error) {
	type alias Session
	return json.Marshal(struct {
		alias
		EstimatedDuration int `json:"estimated_duration"`
	}{alias(s), s.EstimatedDuration()})
}

// Duplicate deep-copies the session and its contents with fresh ids,
// resets the status to draft and zeroes all engagement stats.
func (s Session) Duplicate() Session {
	now := time.Now().UTC()
	dup := s
	dup.ID = uuid.New().String()
	dup.Title = s.Title + " (copy)"
	dup.Status = StatusDraft
	dup.EnrollmentCount = 0
	dup.CompletionRate = 0
	dup.AverageScore = 0
	dup.CreatedAt = now
	dup.UpdatedAt = now

	dup.Contents = make([]Content, len(s.Contents))
	for i, c := range s.Contents {
		cc := c
		cc.ID = uuid.New().String()
		cc.SessionID = dup.ID
		cc.CreatedAt = now
		cc.UpdatedAt = now
		dup.Contents[i] = cc
	}
	dup.Objectives = append([]string(nil), s.Objectives...)
	dup.Tags = append([]string(nil), s.Tags...)
	dup.Prerequisites = append([]string(nil), s.Prerequisites...)
	return dup
}

// UnmarshalJSON decodes the payload into the concrete variant selected by `type`.
// A content without a payload is malformed; every type carries one.
func (c *Content) UnmarshalJSON(data []byte) error {
	type alias Content
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Payload) == 0 || string(aux.Payload) == "null" {
		return errors.Errorf("missing payload for content of type %q", c.Type)
	}
	payload, err := decodePayload(c.Type, aux.Payload)
	if err != nil {
		return err
	}
	c.Payload = payload
	return nil
}

// NewSession contains information needed to create a new Session.
type NewSession struct {
	CourseID    string   `json:"course_id"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	AccessLevel string   `json:"access_level" validate:"required,accesslevel"`
	Objectives  []string `json:"objectives"`
	Tags        []string `json:"tags"`
}

func (ns *NewSession) Validate() error {
	ns.Title = core.CleanString(ns.Title)
	ns.Description = core.CleanString(ns.Description)
	return core.Validate.Struct(ns)
}

// UpdateSession defines what information may be provided to modify an existing
// Session; nil/empty fields are left unchanged.
type UpdateSession struct {
	Title         string   `json:"title"`
	Description   *string  `json:"description"`
	Status        string   `json:"status" validate:"omitempty,sessionstatus"`
	AccessLevel   string   `json:"access_level" validate:"omitempty,accesslevel"`
	Objectives    []string `json:"objectives"`
	Tags          []string `json:"tags"`
	Prerequisites []string `json:"prerequisites"`
}

func (us *UpdateSession) Validate() error {
	us.Title = core.CleanString(us.Title)
	return core.Validate.Struct(us)
}

// apply merges the update into orig. ARCHIVED is terminal.
func (us UpdateSession) apply(orig Session) (Session, error) {
	if orig.Status == StatusArchived {
		return Session{}, ErrArchived
	}
	s := orig
	if us.Title != "" {
		s.Title = us.Title
	}
	if us.Description != nil {
		s.Description = *us.Description
	}
	if us.Status != "" {
		s.Status = us.Status
	}
	if us.AccessLevel != "" {
		s.AccessLevel = us.AccessLevel
	}
	if us.Objectives != nil {
		s.Objectives = us.Objectives
	}
	if us.Tags != nil {
		s.Tags = us.Tags
	}
	if us.Prerequisites != nil {
		s.Prerequisites = us.Prerequisites
	}
	s.UpdatedAt = time.Now().UTC()
	return s, nil
}

// NewContent contains information needed to create a new Content inside a Session.
type NewContent struct {
	SessionID   string          `json:"session_id" validate:"required"`
	Type        ContentType     `json:"type" validate:"required,contenttype"`
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	AccessLevel string          `json:"access_level" validate:"required,accesslevel"`
	Duration    int             `json:"duration" validate:"omitempty,gte=0"`
	IsFree      bool            `json:"is_free"`
	Payload     json.RawMessage `json:"payload" validate:"required"`

	payload Payload // decoded by Validate
}

// Validate rejects tag/payload mismatches before any collaborator call.
func (nc *NewContent) Validate() error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	if err := core.Validate.Struct(nc); err != nil {
		return err
	}
	payload, err := decodePayload(nc.Type, nc.Payload)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "payload", Error: err.Error()})
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	nc.payload = payload
	return nil
}

// DecodedPayload returns the payload decoded by a successful Validate.
func (nc *NewContent) DecodedPayload() Payload { return nc.payload }

// UpdateContent defines what information may be provided to modify an existing
// Content. The content type itself is immutable; the payload, when given,
// must match the existing type.
type UpdateContent struct {
	Title       string          `json:"title"`
	Description *string         `json:"description"`
	AccessLevel string          `json:"access_level" validate:"omitempty,accesslevel"`
	Duration    *int            `json:"duration" validate:"omitempty,gte=0"`
	IsFree      *bool           `json:"is_free"`
	Payload     json.RawMessage `json:"payload"`
}

func (uc *UpdateContent) Validate() error {
	uc.Title = core.CleanString(uc.Title)
	return core.Validate.Struct(uc)
}

func (uc UpdateContent) apply(orig Content) (Content, error) {
	c := orig
	if uc.Title != "" {
		c.Title = uc.Title
	}
	if uc.Description != nil {
		c.Description = *uc.Description
	}
	if uc.AccessLevel != "" {
		c.AccessLevel = uc.AccessLevel
	}
	if uc.Duration != nil {
		c.Duration = *uc.Duration
	}
	if uc.IsFree != nil {
		c.IsFree = *uc.IsFree
	}
	if len(uc.Payload) > 0 {
		payload, err := decodePayload(orig.Type, uc.Payload)
		if err != nil {
			return Content{}, core.NewValidationError(err, core.FieldError{Field: "payload", Error: err.Error()})
		}
		if err := payload.Validate(); err != nil {
			return Content{}, err
		}
		c.Payload = payload
	}
	c.UpdatedAt = time.Now().UTC()
	return c, nil
}

// NewAttempt contains a student's submission for a quiz/assignment/exercise content.
type NewAttempt struct {
	ContentID string          `json:"content_id" validate:"required"`
	StudentID string          `json:"student_id" validate:"required"`
	Answers   json.RawMessage `json:"answers" validate:"required"`
	Score     *float64        `json:"score" validate:"omitempty,gte=0,lte=100"`
}

func (na *NewAttempt) Validate() error { return core.Validate.Struct(na) }
