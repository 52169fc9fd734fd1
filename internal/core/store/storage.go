package store

import (
	"context"
	"errors"
	"fmt"
)

// Storage is a string key/value store, the equivalent of one browser
// storage area. Implementations: db.KV (SQLite) and RedisStorage.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Keys names the entries a chat flow keeps in its storage scope
type Keys struct {
	History string // active session's messages
	Chats   string // all sessions
	Current string // current session index
	Files   string // uploaded files by session id
}

var (
	// DurableKeys is the layout of the main chat flow
	DurableKeys = Keys{
		History: "chatHistory",
		Chats:   "chats",
		Current: "currentChat",
		Files:   "fileReferences",
	}

	// InstantKeys is the layout of the instant-analysis flow
	InstantKeys = Keys{
		History: "InstantChatHistory",
		Chats:   "instant-chats",
		Current: "currentInstantChat",
		Files:   "fileReferences",
	}
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the cache limit
	ErrFileTooLarge = errors.New("file too large to store")
)

// StorageError represents a failed storage operation
type StorageError struct {
	Op  string // "get", "set", "decode", "encode"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
