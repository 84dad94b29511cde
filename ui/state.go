package ui

import (
	"sync"

	"github.com/honganh1206/streamchat/conversation"
)

// State is one published view of a conversation.
type State struct {
	ConversationID string
	Messages       []conversation.Message
	// Busy is true while a turn or one-shot call holds the conversation.
	Busy bool
}

// Feed hands snapshots to a renderer without ever blocking the publisher.
// When the buffer is full the oldest snapshot is dropped; every snapshot is
// complete, so skipping one only delays the render.
type Feed struct {
	mu      sync.Mutex
	updates chan *State
	dropped int
}

func NewFeed(size int) *Feed {
	if size < 1 {
		size = 1
	}
	return &Feed{updates: make(chan *State, size)}
}

func (f *Feed) Publish(s *State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		select {
		case f.updates <- s:
			return
		default:
		}
		select {
		case <-f.updates:
			f.dropped++
		default:
		}
	}
}

func (f *Feed) Subscribe() <-chan *State {
	return f.updates
}

// Dropped counts snapshots discarded because nobody was reading.
func (f *Feed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
