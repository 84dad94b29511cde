package store

import (
	"sort"
	"sync"
	"time"

	"github.com/honganh1206/streamchat/conversation"
)

type memoryRecord struct {
	createdAt time.Time
	messages  []conversation.Message
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	active  string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Save(id string, msgs []conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		rec.createdAt = time.Now().UTC()
	}
	rec.messages = conversation.CloneMessages(msgs)
	s.records[id] = rec
	s.active = id
	return nil
}

func (s *MemoryStore) Load(id string) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	return conversation.CloneMessages(rec.messages), nil
}

func (s *MemoryStore) ActiveID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *MemoryStore) List() ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]Metadata, 0, len(s.records))
	for id, rec := range s.records {
		list = append(list, Metadata{
			ID:                id,
			CreatedAt:         rec.createdAt,
			LatestMessageTime: latestMessageTime(rec.messages, rec.createdAt),
			MessageCount:      len(rec.messages),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LatestMessageTime.After(list[j].LatestMessageTime)
	})
	return list, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
