package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/rs/zerolog"
)

// DefaultMaxFileBytes caps a cached upload (browsers give session storage about 5MB)
const DefaultMaxFileBytes = 5 << 20

// Collection is the ordered set of sessions plus the current index
type Collection struct {
	Sessions []models.Session
	Current  int
}

// Active returns the session at the current index, if it exists
func (c Collection) Active() (models.Session, bool) {
	if c.Current >= 0 && c.Current < len(c.Sessions) {
		return c.Sessions[c.Current], true
	}
	return models.Session{}, false
}

// ChatStore persists a session collection in one storage scope
type ChatStore struct {
	storage      Storage
	keys         Keys
	log          zerolog.Logger
	maxFileBytes int64
}

// New creates a chat store over storage using the given key layout
func New(storage Storage, keys Keys, log zerolog.Logger) *ChatStore {
	return &ChatStore{
		storage:      storage,
		keys:         keys,
		log:          log,
		maxFileBytes: DefaultMaxFileBytes,
	}
}

// SetMaxFileBytes changes the upload cache limit. n <= 0 disables the limit.
func (s *ChatStore) SetMaxFileBytes(n int64) {
	s.maxFileBytes = n
}

// Keys returns the key layout of the store
func (s *ChatStore) Keys() Keys {
	return s.keys
}

// Load reads the collection. Missing or unreadable data yields an empty
// collection at index 0; problems are logged, never returned.
func (s *ChatStore) Load(ctx context.Context) Collection {
	var c Collection

	var holes []int
	if raw, ok := s.get(ctx, s.keys.Chats); ok {
		sessions, skipped, err := decodeSessions(raw)
		if err != nil {
			s.log.Warn().Err(err).Str("key", s.keys.Chats).Msg("Ignoring unreadable chats")
		} else {
			c.Sessions = sessions
			holes = skipped
		}
	}

	if raw, ok := s.get(ctx, s.keys.Current); ok {
		idx, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			if strings.TrimSpace(raw) != "null" {
				s.log.Warn().Err(err).Str("key", s.keys.Current).Msg("Ignoring unreadable current chat index")
			}
		} else {
			c.Current = idx
			for _, h := range holes {
				if h < idx {
					c.Current--
				}
			}
		}
	}
	if c.Current < 0 || c.Current > len(c.Sessions) {
		c.Current = 0
	}

	// The active history can be ahead of chats when an older client crashed
	// between its two writes. Recover it as a new thread.
	if c.Current == len(c.Sessions) {
		if raw, ok := s.get(ctx, s.keys.History); ok {
			var msgs []models.Message
			if err := json.Unmarshal([]byte(raw), &msgs); err == nil && len(msgs) > 0 {
				sess := models.NewSession()
				sess.CreatedAt = msgs[0].Timestamp
				sess.Messages = msgs
				c.Sessions = append(c.Sessions, sess)
			}
		}
	}

	return c
}

// Save writes the whole collection. Failures are logged and swallowed so
// a full or unavailable store never takes the chat down.
func (s *ChatStore) Save(ctx context.Context, c Collection) {
	sessions := c.Sessions
	if sessions == nil {
		sessions = []models.Session{}
	}

	history := []models.Message{}
	if active, ok := c.Active(); ok && active.Messages != nil {
		history = active.Messages
	}

	s.setJSON(ctx, s.keys.History, history)
	s.setJSON(ctx, s.keys.Chats, sessions)
	s.set(ctx, s.keys.Current, strconv.Itoa(c.Current))
}

func (s *ChatStore) get(ctx context.Context, key string) (string, bool) {
	raw, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(&StorageError{Op: "get", Key: key, Err: err}).Msg("Storage read failed")
		return "", false
	}
	return raw, ok
}

func (s *ChatStore) set(ctx context.Context, key, value string) bool {
	if err := s.storage.Set(ctx, key, value); err != nil {
		s.log.Error().Err(&StorageError{Op: "set", Key: key, Err: err}).Int("bytes", len(value)).Msg("Storage write failed")
		return false
	}
	return true
}

func (s *ChatStore) setJSON(ctx context.Context, key string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(&StorageError{Op: "encode", Key: key, Err: err}).Msg("Storage encode failed")
		return false
	}
	return s.set(ctx, key, string(data))
}

// DecodeSessions parses a stored chats value in either layout. Empty slots
// of the web client's layout are dropped.
func DecodeSessions(raw string) ([]models.Session, error) {
	sessions, _, err := decodeSessions(raw)
	return sessions, err
}

// decodeSessions accepts both the current layout (array of session objects)
// and the web client's layout (array of message arrays, possibly with holes).
// It also returns the positions of the null holes it dropped.
func decodeSessions(raw string) ([]models.Session, []int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, nil, err
	}

	sessions := make([]models.Session, 0, len(items))
	var holes []int
	for i, item := range items {
		item = bytes.TrimSpace(item)
		switch {
		case len(item) == 0 || bytes.Equal(item, []byte("null")):
			holes = append(holes, i)

		case item[0] == '[':
			var msgs []models.Message
			if err := json.Unmarshal(item, &msgs); err != nil {
				return nil, nil, fmt.Errorf("chat %d: %w", i, err)
			}
			sess := models.NewSession()
			if len(msgs) > 0 && !msgs[0].Timestamp.IsZero() {
				sess.CreatedAt = msgs[0].Timestamp
			}
			sess.Messages = msgs
			sessions = append(sessions, sess)

		default:
			var sess models.Session
			if err := json.Unmarshal(item, &sess); err != nil {
				return nil, nil, fmt.Errorf("chat %d: %w", i, err)
			}
			if sess.ID == "" {
				sess.ID = models.NewSession().ID
			}
			sessions = append(sessions, sess)
		}
	}
	return sessions, holes, nil
}

// fileRef is the stored form of an upload
type fileRef struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"` // unix millis
	Data         string `json:"data"`         // base64
}

func (s *ChatStore) fileRefs(ctx context.Context) map[string]fileRef {
	refs := map[string]fileRef{}
	raw, ok := s.get(ctx, s.keys.Files)
	if !ok {
		return refs
	}
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		s.log.Warn().Err(err).Str("key", s.keys.Files).Msg("Ignoring unreadable file references")
		return map[string]fileRef{}
	}
	return refs
}

// PutFile caches an upload for a session so later turns can reuse it
func (s *ChatStore) PutFile(ctx context.Context, sessionID string, up models.Upload) error {
	encoded := base64.StdEncoding.EncodeToString(up.Data)
	if s.maxFileBytes > 0 && int64(len(encoded)) > s.maxFileBytes {
		return &StorageError{Op: "set", Key: s.keys.Files, Err: ErrFileTooLarge}
	}

	refs := s.fileRefs(ctx)
	refs[sessionID] = fileRef{
		Name:         up.Name,
		Type:         up.Type,
		Size:         up.Size,
		LastModified: up.LastModified.UnixMilli(),
		Data:         encoded,
	}

	data, err := json.Marshal(refs)
	if err != nil {
		return &StorageError{Op: "encode", Key: s.keys.Files, Err: err}
	}
	if err := s.storage.Set(ctx, s.keys.Files, string(data)); err != nil {
		return &StorageError{Op: "set", Key: s.keys.Files, Err: err}
	}
	return nil
}

// File returns the upload cached for a session
func (s *ChatStore) File(ctx context.Context, sessionID string) (*models.Upload, bool) {
	ref, ok := s.fileRefs(ctx)[sessionID]
	if !ok {
		return nil, false
	}

	data, err := base64.StdEncoding.DecodeString(ref.Data)
	if err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Msg("Ignoring corrupt cached file")
		return nil, false
	}

	return &models.Upload{
		Name:         ref.Name,
		Type:         ref.Type,
		Size:         ref.Size,
		LastModified: time.UnixMilli(ref.LastModified),
		Data:         data,
	}, true
}

// DropFile forgets the upload cached for a session
func (s *ChatStore) DropFile(ctx context.Context, sessionID string) {
	refs := s.fileRefs(ctx)
	if _, ok := refs[sessionID]; !ok {
		return
	}
	delete(refs, sessionID)
	s.setJSON(ctx, s.keys.Files, refs)
}
