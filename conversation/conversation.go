package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
)

const KindIntro = "intro"

var (
	ErrConversationNotFound = errors.New("conversation: not found")
	ErrAlreadyStreaming     = errors.New("conversation: another message is streaming")
	ErrNotStreaming         = errors.New("conversation: message is not streaming")
)

type Meta struct {
	Kind string `json:"kind,omitempty"`
}

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming"`
	Failed    bool      `json:"failed,omitempty"`
	Meta      *Meta     `json:"meta,omitempty"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

func (m Message) IsIntro() bool {
	return m.Meta != nil && m.Meta.Kind == KindIntro
}

// Conversation is the ordered message list of one chat. The id stays empty
// until the remote service assigns one.
type Conversation struct {
	mu       sync.RWMutex
	id       string
	messages []Message
}

func New() *Conversation {
	return &Conversation{messages: make([]Message, 0)}
}

func (c *Conversation) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Conversation) SetID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Append adds msg and returns its index. Only one message may stream at a
// time.
func (c *Conversation) Append(msg Message) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Streaming {
		for _, m := range c.messages {
			if m.Streaming {
				return -1, ErrAlreadyStreaming
			}
		}
	}

	msg.Sequence = len(c.messages)
	msg.CreatedAt = time.Now().UTC().Round(0)
	c.messages = append(c.messages, msg)
	return msg.Sequence, nil
}

// Replace swaps the whole content of a streaming message.
func (c *Conversation) Replace(idx int, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx < 0 || idx >= len(c.messages) {
		return fmt.Errorf("conversation: index %d out of range", idx)
	}
	if !c.messages[idx].Streaming {
		return ErrNotStreaming
	}
	c.messages[idx].Content = content
	return nil
}

// Finish freezes a streaming message.
func (c *Conversation) Finish(idx int, failed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx < 0 || idx >= len(c.messages) {
		return fmt.Errorf("conversation: index %d out of range", idx)
	}
	if !c.messages[idx].Streaming {
		return ErrNotStreaming
	}
	c.messages[idx].Streaming = false
	c.messages[idx].Failed = failed
	return nil
}

// Overwrite replaces the content of a finished message, as regenerate does.
func (c *Conversation) Overwrite(idx int, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx < 0 || idx >= len(c.messages) {
		return fmt.Errorf("conversation: index %d out of range", idx)
	}
	if c.messages[idx].Streaming {
		return ErrAlreadyStreaming
	}
	c.messages[idx].Content = content
	c.messages[idx].Failed = false
	return nil
}

// LastReply returns the index of the last assistant message that is not the
// introduction.
func (c *Conversation) LastReply() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == AssistantRole && !m.IsIntro() {
			return i, true
		}
	}
	return -1, false
}

// Snapshot returns a copy that shares no memory with the conversation.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CloneMessages(c.messages)
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Clear drops every message and keeps the id.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]Message, 0)
}

// Reset forgets the id and every message, as at the start of a new chat.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = ""
	c.messages = make([]Message, 0)
}

// Restore loads persisted state. A reload cannot resume a live stream, so
// streaming flags are cleared.
func (c *Conversation) Restore(id string, msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.id = id
	c.messages = CloneMessages(msgs)
	for i := range c.messages {
		c.messages[i].Streaming = false
		c.messages[i].Sequence = i
	}
}

// CloneMessages deep-copies msgs so the result shares no Meta with them.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Meta != nil {
			meta := *out[i].Meta
			out[i].Meta = &meta
		}
	}
	return out
}
