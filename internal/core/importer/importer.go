package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/neilberkman/querychat/internal/core/chat"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/store"
	"github.com/rs/zerolog"
)

// ErrUnknownFormat is returned for input that is not a chat dump
var ErrUnknownFormat = errors.New("unrecognized chat dump")

// Importer handles importing chats into a controller
type Importer struct {
	chat *chat.Controller
	log  zerolog.Logger
}

// New creates a new importer
func New(ctrl *chat.Controller, log zerolog.Logger) *Importer {
	return &Importer{chat: ctrl, log: log}
}

// Result summarizes one import run
type Result struct {
	Imported int
	Skipped  int // already present
}

// ImportFile imports the dump at path
func (i *Importer) ImportFile(ctx context.Context, path string, progress ProgressCallback) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open dump: %w", err)
	}
	defer func() { _ = f.Close() }()

	return i.Import(ctx, f, progress)
}

// Import reads a dump from r and appends every chat not already present.
// Chats are matched by content since dumps from the web client carry no ids.
func (i *Importer) Import(ctx context.Context, r io.Reader, progress ProgressCallback) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read dump: %w", err)
	}

	sessions, err := ParseDump(data)
	if err != nil {
		return Result{}, err
	}
	return i.ImportSessions(ctx, sessions, progress)
}

// ImportSessions appends the given chats, skipping empty and known ones
func (i *Importer) ImportSessions(ctx context.Context, sessions []models.Session, progress ProgressCallback) (Result, error) {
	seen := make(map[string]bool)
	for _, s := range i.chat.Sessions() {
		seen[fingerprint(s)] = true
	}

	var res Result
	for _, sess := range sessions {
		if len(sess.Messages) == 0 {
			continue
		}

		fp := fingerprint(sess)
		if seen[fp] {
			res.Skipped++
			i.log.Debug().Str("title", sess.Title()).Msg("Chat already imported")
			if progress != nil {
				progress.Update(sess.Title())
			}
			continue
		}

		if err := i.chat.AddSession(ctx, sess); err != nil {
			if !errors.Is(err, chat.ErrDuplicateSession) {
				return res, fmt.Errorf("failed to import chat %q: %w", sess.Title(), err)
			}
			res.Skipped++
		} else {
			res.Imported++
		}
		seen[fp] = true

		if progress != nil {
			progress.Update(sess.Title())
		}
	}

	if progress != nil {
		progress.Finish()
	}
	return res, nil
}

// ParseDump accepts a browser storage dump ({"chats": ..., "currentChat": ...}
// with string or JSON values), a bare chats array, or a single exported chat.
func ParseDump(data []byte) ([]models.Session, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrUnknownFormat
	}

	if data[0] == '[' {
		return decode(data)
	}
	if data[0] != '{' {
		return nil, ErrUnknownFormat
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse dump: %w", err)
	}

	if raw, ok := obj[store.DurableKeys.Chats]; ok {
		return decode(unquote(raw))
	}

	if _, ok := obj["messages"]; ok {
		var sess models.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("failed to parse chat: %w", err)
		}
		return []models.Session{sess}, nil
	}

	// Only an active history survived
	if raw, ok := obj[store.DurableKeys.History]; ok {
		var msgs []models.Message
		if err := json.Unmarshal(unquote(raw), &msgs); err != nil {
			return nil, fmt.Errorf("failed to parse chat history: %w", err)
		}
		sess := models.NewSession()
		sess.Messages = msgs
		if len(msgs) > 0 {
			sess.CreatedAt = msgs[0].Timestamp
		}
		return []models.Session{sess}, nil
	}

	return nil, ErrUnknownFormat
}

func decode(data []byte) ([]models.Session, error) {
	sessions, err := store.DecodeSessions(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse chats: %w", err)
	}
	return sessions, nil
}

// Storage dumps hold every value as a JSON-encoded string
func unquote(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}

// fingerprint identifies a chat by its conversation
func fingerprint(sess models.Session) string {
	h := sha256.New()
	for _, m := range sess.Messages {
		_, _ = io.WriteString(h, string(m.Role))
		_, _ = h.Write([]byte{0})
		_, _ = io.WriteString(h, m.Content)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
