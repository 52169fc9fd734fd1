// Package chat owns the in-memory chat sessions of one flow and keeps them
// in sync with the persistent chat store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/store"
	"github.com/rs/zerolog"
)

// DefaultMaxMessages is the per-session message cap
const DefaultMaxMessages = 10

var (
	// ErrSessionFull means the session reached its message cap
	ErrSessionFull = errors.New("maximum message limit reached, start a new chat to continue")

	// ErrNoSuchSession is returned for unknown session indexes or ids
	ErrNoSuchSession = errors.New("no such chat")

	// ErrDuplicateSession is returned when adding a session whose id exists
	ErrDuplicateSession = errors.New("chat already exists")
)

// Controller mediates all reads and writes of a session collection.
// Methods are safe for concurrent use.
type Controller struct {
	mu    sync.Mutex
	store *store.ChatStore
	log   zerolog.Logger
	max   int

	sessions []models.Session
	current  int

	// id reserved for the blank session at index len(sessions)
	blankID string
}

// New loads the collection from st and returns a controller over it
func New(ctx context.Context, st *store.ChatStore, log zerolog.Logger, maxMessages int) *Controller {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	c := st.Load(ctx)
	log.Debug().Int("sessions", len(c.Sessions)).Int("current", c.Current).Msg("Loaded chats")

	return &Controller{
		store:    st,
		log:      log,
		max:      maxMessages,
		sessions: c.Sessions,
		current:  c.Current,
		blankID:  uuid.NewString(),
	}
}

// Store returns the underlying chat store
func (c *Controller) Store() *store.ChatStore {
	return c.store
}

// MaxMessages returns the per-session cap
func (c *Controller) MaxMessages() int {
	return c.max
}

func (c *Controller) active() []models.Message {
	if c.current < len(c.sessions) {
		return c.sessions[c.current].Messages
	}
	return nil
}

// ensureActive materializes the blank session so it can take messages
func (c *Controller) ensureActive() *models.Session {
	if c.current == len(c.sessions) {
		sess := models.Session{ID: c.blankID, CreatedAt: time.Now()}
		c.sessions = append(c.sessions, sess)
		c.blankID = uuid.NewString()
	}
	return &c.sessions[c.current]
}

func (c *Controller) persist(ctx context.Context) {
	c.store.Save(ctx, store.Collection{Sessions: c.sessions, Current: c.current})
}

// Messages returns a copy of the active session's messages
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.active()
	out := make([]models.Message, len(active))
	copy(out, active)
	return out
}

// Sessions returns a copy of all stored sessions in order
func (c *Controller) Sessions() []models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Session, len(c.sessions))
	for i, s := range c.sessions {
		out[i] = s.Clone()
	}
	return out
}

// CurrentIndex returns the position of the active session.
// len(Sessions()) means a fresh session with no messages yet.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ActiveSessionID returns the id of the active session, including the id
// reserved for a fresh session that has no messages yet
func (c *Controller) ActiveSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current < len(c.sessions) {
		return c.sessions[c.current].ID
	}
	return c.blankID
}

// Remaining returns how many more messages the active session accepts
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max - len(c.active())
}

// Full reports whether the active session reached the cap
func (c *Controller) Full() bool {
	return c.Remaining() <= 0
}

// AppendMessage appends msg to the active session and persists the collection
func (c *Controller) AppendMessage(ctx context.Context, msg models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.active()) >= c.max {
		return ErrSessionFull
	}

	sess := c.ensureActive()
	sess.Messages = append(sess.Messages, msg)
	c.persist(ctx)
	return nil
}

// Exchange describes a user turn that was appended and awaits its reply
type Exchange struct {
	SessionID string
	// History is the conversation before the user turn
	History []models.Message
}

// StartExchange appends a user turn, reserving room for its reply. It fails
// with ErrSessionFull when the session cannot hold both.
func (c *Controller) StartExchange(ctx context.Context, msg models.Message) (Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.active())+2 > c.max {
		return Exchange{}, ErrSessionFull
	}

	sess := c.ensureActive()
	prior := make([]models.Message, len(sess.Messages))
	copy(prior, sess.Messages)

	sess.Messages = append(sess.Messages, msg)
	c.persist(ctx)

	return Exchange{SessionID: sess.ID, History: prior}, nil
}

// AppendToSession appends msg to the session with the given id, whether or
// not it is the active one
func (c *Controller) AppendToSession(ctx context.Context, id string, msg models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.sessions {
		if c.sessions[i].ID != id {
			continue
		}
		if len(c.sessions[i].Messages) >= c.max {
			return ErrSessionFull
		}
		c.sessions[i].Messages = append(c.sessions[i].Messages, msg)
		if i != c.current {
			c.log.Debug().Str("session", id).Msg("Reply routed to inactive chat")
		}
		c.persist(ctx)
		return nil
	}
	return ErrNoSuchSession
}

// StartNewSession moves to a fresh session. It does nothing and returns
// false while the active session has no messages.
func (c *Controller) StartNewSession(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.active()) == 0 {
		return false
	}

	// Append at the end of the collection, never over an existing thread
	c.current = len(c.sessions)
	c.blankID = uuid.NewString()
	c.persist(ctx)

	c.log.Debug().Int("current", c.current).Msg("Started new chat")
	return true
}

// SwitchSession makes the session at index active. index == len(Sessions())
// selects a fresh session.
func (c *Controller) SwitchSession(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index > len(c.sessions) {
		return ErrNoSuchSession
	}

	c.current = index
	c.persist(ctx)
	return nil
}

// DeleteSession removes the session at index along with its cached upload.
// The current index keeps pointing at the same thread; deleting the active
// thread selects a fresh session.
func (c *Controller) DeleteSession(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.sessions) {
		return ErrNoSuchSession
	}

	id := c.sessions[index].ID
	c.sessions = append(c.sessions[:index], c.sessions[index+1:]...)

	switch {
	case c.current == index:
		c.current = len(c.sessions)
		c.blankID = uuid.NewString()
	case c.current > index:
		c.current--
	}

	c.store.DropFile(ctx, id)
	c.persist(ctx)
	return nil
}

// AddSession appends a finished session to the collection without
// changing which session is active. A missing id is assigned.
func (c *Controller) AddSession(ctx context.Context, sess models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if err := sess.Validate(); err != nil {
		return err
	}
	for _, s := range c.sessions {
		if s.ID == sess.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateSession, sess.ID)
		}
	}

	// Keep a blank active session blank
	if c.current == len(c.sessions) {
		c.current++
	}
	c.sessions = append(c.sessions, sess.Clone())
	c.persist(ctx)
	return nil
}

// SessionByID returns a copy of the session with the given id
func (c *Controller) SessionByID(id string) (models.Session, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.sessions {
		if s.ID == id {
			return s.Clone(), i, true
		}
	}
	return models.Session{}, -1, false
}
