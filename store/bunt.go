package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/honganh1206/streamchat/conversation"
	"github.com/tidwall/buntdb"
	"github.com/tidwall/gjson"
)

const (
	conversationPrefix = "conversation:"
	activeKey          = "active"
	updatedIndex       = "updated"
)

type buntRecord struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	Updated   int64                  `json:"updated"`
	Messages  []conversation.Message `json:"messages"`
}

// BuntStore keeps one JSON record per conversation in a buntdb file.
type BuntStore struct {
	db *buntdb.DB
}

// OpenBunt opens path, or an in-memory database for ":memory:".
func OpenBunt(path string) (*BuntStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
	}

	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.CreateIndex(updatedIndex, conversationPrefix+"*", buntdb.IndexJSON("updated")); err != nil {
		db.Close()
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) Save(id string, msgs []conversation.Message) error {
	key := conversationPrefix + id
	now := time.Now().UTC()

	return s.db.Update(func(tx *buntdb.Tx) error {
		rec := buntRecord{ID: id, CreatedAt: now, Messages: msgs}
		if prev, err := tx.Get(key); err == nil {
			if created, err := time.Parse(time.RFC3339Nano, gjson.Get(prev, "created_at").String()); err == nil {
				rec.CreatedAt = created
			}
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		rec.Updated = now.UnixNano()
		if rec.Messages == nil {
			rec.Messages = []conversation.Message{}
		}

		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(key, string(val), nil); err != nil {
			return err
		}
		_, _, err = tx.Set(activeKey, id, nil)
		return err
	})
}

func (s *BuntStore) Load(id string) ([]conversation.Message, error) {
	var rec buntRecord
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(conversationPrefix + id)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &rec)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, conversation.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Messages, nil
}

func (s *BuntStore) ActiveID() (string, error) {
	var id string
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(activeKey)
		if err != nil {
			return err
		}
		id = val
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return "", nil
	}
	return id, err
}

// List reads only the fields it needs from each record.
func (s *BuntStore) List() ([]Metadata, error) {
	var list []Metadata
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend(updatedIndex, func(key, value string) bool {
			res := gjson.GetMany(value, "created_at", "messages.#", "messages.#.created_at")
			meta := Metadata{
				ID:           strings.TrimPrefix(key, conversationPrefix),
				MessageCount: int(res[1].Int()),
			}
			meta.CreatedAt, _ = time.Parse(time.RFC3339Nano, res[0].String())
			meta.LatestMessageTime = meta.CreatedAt
			for _, ts := range res[2].Array() {
				if t, err := time.Parse(time.RFC3339Nano, ts.String()); err == nil && t.After(meta.LatestMessageTime) {
					meta.LatestMessageTime = t
				}
			}
			list = append(list, meta)
			return true
		})
	})
	return list, err
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
