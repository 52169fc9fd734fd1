package models

import (
	"testing"
	"time"
)

func TestSessionValidation(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{
			name: "valid session",
			session: Session{
				ID:        "3f1c9a52-0d7e-4e0b-9d7c-1b2a3c4d5e6f",
				CreatedAt: time.Now(),
				Messages: []Message{
					{ID: "1", Role: RoleUser, Content: "Show me the total count of Stores"},
					{ID: "2", Role: RoleAssistant, Content: "45 stores"},
				},
			},
			wantErr: false,
		},
		{
			name:    "missing session ID",
			session: Session{},
			wantErr: true,
		},
		{
			name: "unknown role",
			session: Session{
				ID:       "abc",
				Messages: []Message{{ID: "1", Role: "system", Content: "hi"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionTitle(t *testing.T) {
	s := NewSession()
	if s.Title() != "" {
		t.Errorf("empty session title = %q, want empty", s.Title())
	}

	s.Messages = []Message{
		{Role: RoleError, Content: "Failed to connect"},
		{Role: RoleUser, Content: "average weekly sales"},
	}
	if got := s.Title(); got != "average weekly sales" {
		t.Errorf("Title() = %q, want first user message", got)
	}
}

func TestNewSessionHasUniqueIDs(t *testing.T) {
	a, b := NewSession(), NewSession()
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSession()
	s.Messages = append(s.Messages, NewMessage(RoleUser, "q"))
	c := s.Clone()
	c.Messages = append(c.Messages, NewMessage(RoleAssistant, "a"))
	c.Messages[0].Content = "changed"

	if len(s.Messages) != 1 || s.Messages[0].Content != "q" {
		t.Errorf("original modified through clone: %+v", s.Messages)
	}
}
