// Package store persists conversations keyed by id, plus a pointer to the
// last active one.
package store

import (
	"fmt"
	"time"

	"github.com/honganh1206/streamchat/conversation"
)

const (
	BackendBunt   = "bunt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Store has no notion of streaming: a message saved mid-stream is stored as
// it was at that moment.
type Store interface {
	// Save writes msgs under id and marks id as the active conversation.
	Save(id string, msgs []conversation.Message) error
	// Load returns conversation.ErrConversationNotFound for unknown ids.
	Load(id string) ([]conversation.Message, error)
	// ActiveID returns "" when nothing was saved yet.
	ActiveID() (string, error)
	List() ([]Metadata, error)
	Close() error
}

type Metadata struct {
	ID                string
	CreatedAt         time.Time
	LatestMessageTime time.Time
	MessageCount      int
}

// Open builds the store for backend. path is ignored by the memory backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendBunt, "":
		return OpenBunt(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}

func latestMessageTime(msgs []conversation.Message, fallback time.Time) time.Time {
	latest := fallback
	for _, m := range msgs {
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
	}
	return latest
}
