package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is one conversation thread.
// It is identified by ID; its position in a collection is only a sort key.
type Session struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
	Messages  []Message `json:"messages" yaml:"messages"`
}

// NewSession creates an empty session with a fresh identifier
func NewSession() Session {
	return Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
}

// Title is the first user message, used to label the thread in lists
func (s *Session) Title() string {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	if len(s.Messages) > 0 {
		return s.Messages[0].Content
	}
	return ""
}

// UpdatedAt is the timestamp of the latest message, or the creation time
func (s *Session) UpdatedAt() time.Time {
	if n := len(s.Messages); n > 0 && !s.Messages[n-1].Timestamp.IsZero() {
		return s.Messages[n-1].Timestamp
	}
	return s.CreatedAt
}

// Validate checks if the session has required fields
func (s *Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("session id is required")
	}
	for i, m := range s.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return nil
}

// Clone returns a copy whose message slice can be appended to independently
func (s Session) Clone() Session {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	s.Messages = msgs
	return s
}
