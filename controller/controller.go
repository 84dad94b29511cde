// Package controller runs chat turns against the remote service: it streams
// a reply into a placeholder message, falls back to a one-shot call when the
// stream fails, and keeps at most one operation in flight per conversation.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/honganh1206/streamchat/api"
	"github.com/honganh1206/streamchat/conversation"
	"github.com/honganh1206/streamchat/normalize"
	"github.com/honganh1206/streamchat/sse"
	"github.com/honganh1206/streamchat/store"
	"github.com/honganh1206/streamchat/ui"
	"github.com/looplab/fsm"
)

// Backend is the remote chat service. *api.Client satisfies it.
type Backend interface {
	Stream(ctx context.Context, req api.TurnRequest) (*sse.Reader, error)
	Complete(ctx context.Context, req api.TurnRequest) (*api.Reply, error)
	Regenerate(ctx context.Context, id string) (*api.Reply, error)
	Clear(ctx context.Context, id string) error
}

type Option func(*Controller)

func WithStore(s store.Store) Option {
	return func(c *Controller) { c.store = s }
}

func WithFeed(f *ui.Feed) Option {
	return func(c *Controller) { c.feed = f }
}

func WithNormalizer(n *normalize.Normalizer) Option {
	return func(c *Controller) { c.normalizer = n }
}

func WithIntroText(text string) Option {
	return func(c *Controller) { c.introText = text }
}

// WithFailureText sets the content a placeholder gets when a turn fails.
func WithFailureText(text string) Option {
	return func(c *Controller) { c.failureText = text }
}

const (
	defaultIntroText   = "你好，我是你的助手。"
	defaultFailureText = "回复失败，请稍后再试。"
)

type Controller struct {
	backend Backend
	conv    *conversation.Conversation

	store       store.Store
	feed        *ui.Feed
	normalizer  *normalize.Normalizer
	introText   string
	failureText string

	lock    sync.Mutex
	machine *fsm.FSM
}

func New(backend Backend, conv *conversation.Conversation, opts ...Option) *Controller {
	if conv == nil {
		conv = conversation.New()
	}
	c := &Controller{
		backend:     backend,
		conv:        conv,
		normalizer:  normalize.New(normalize.DefaultPolicy()),
		introText:   defaultIntroText,
		failureText: defaultFailureText,
		machine:     newMachine(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Conversation() *conversation.Conversation {
	return c.conv
}

// State reports idle, streaming or sending.
func (c *Controller) State() string {
	return c.machine.Current()
}

// acquire takes the turn lock without waiting and moves the machine out of
// idle. The returned func undoes both.
func (c *Controller) acquire(event string) (func(), error) {
	if !c.lock.TryLock() {
		return nil, ErrLockBusy
	}
	if err := c.machine.Event(context.Background(), event); err != nil {
		c.lock.Unlock()
		return nil, fmt.Errorf("controller: %s: %w", event, err)
	}
	c.publish()

	return func() {
		if err := c.machine.Event(context.Background(), eventFinish); err != nil {
			slog.Error("controller: finish transition", "error", err)
		}
		c.lock.Unlock()
		c.publish()
	}, nil
}

// StartTurn begins a new conversation from profile. Messages and id of the
// current one are dropped; the store keeps whatever was saved for it.
func (c *Controller) StartTurn(ctx context.Context, profile api.Profile) error {
	release, err := c.acquire(eventStream)
	if err != nil {
		return err
	}
	defer release()

	// A start opens a new conversation on the service.
	c.conv.Reset()
	c.changed()

	intro := conversation.Message{
		Role:    conversation.AssistantRole,
		Content: c.introText,
		Meta:    &conversation.Meta{Kind: conversation.KindIntro},
	}
	if _, err := c.conv.Append(intro); err != nil {
		return fmt.Errorf("controller: seed intro: %w", err)
	}
	c.changed()

	return c.runTurn(ctx, api.TurnRequest{
		Action:  api.ActionStart,
		Profile: &profile,
	})
}

func (c *Controller) SendTurn(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	release, err := c.acquire(eventStream)
	if err != nil {
		return err
	}
	defer release()

	if err := c.appendUser(text); err != nil {
		return err
	}
	return c.runTurn(ctx, api.TurnRequest{
		Action:  api.ActionSend,
		Message: text,
	})
}

// SendQuickAction shows label as the user's message and sends prompt.
func (c *Controller) SendQuickAction(ctx context.Context, label, prompt string) error {
	if strings.TrimSpace(label) == "" || strings.TrimSpace(prompt) == "" {
		return ErrEmptyMessage
	}
	release, err := c.acquire(eventStream)
	if err != nil {
		return err
	}
	defer release()

	if err := c.appendUser(label); err != nil {
		return err
	}
	return c.runTurn(ctx, api.TurnRequest{
		Action:  api.ActionQuickAction,
		Message: prompt,
		Label:   label,
	})
}

func (c *Controller) appendUser(text string) error {
	msg := conversation.Message{Role: conversation.UserRole, Content: text}
	if _, err := c.conv.Append(msg); err != nil {
		return fmt.Errorf("controller: append user message: %w", err)
	}
	c.changed()
	return nil
}

// RegenerateLastTurn replaces the last reply with a fresh one-shot answer.
func (c *Controller) RegenerateLastTurn(ctx context.Context) error {
	release, err := c.acquire(eventSend)
	if err != nil {
		return err
	}
	defer release()

	idx, ok := c.conv.LastReply()
	if !ok {
		return ErrNothingToRegenerate
	}
	id := c.conv.ID()
	if id == "" {
		return ErrNoConversation
	}

	reply, err := c.backend.Regenerate(ctx, id)
	if err != nil {
		return fmt.Errorf("controller: regenerate: %w", err)
	}
	if err := c.conv.Overwrite(idx, c.normalizer.Normalize(reply.Text)); err != nil {
		return fmt.Errorf("controller: regenerate: %w", err)
	}
	c.changed()
	return nil
}

// ClearConversation empties the messages and keeps the id. When the service
// knows the conversation it is cleared there first; if that fails nothing
// changes locally.
func (c *Controller) ClearConversation(ctx context.Context) error {
	release, err := c.acquire(eventSend)
	if err != nil {
		return err
	}
	defer release()

	if id := c.conv.ID(); id != "" {
		err := c.backend.Clear(ctx, id)
		if err != nil && !errors.Is(err, conversation.ErrConversationNotFound) {
			return fmt.Errorf("controller: clear: %w", err)
		}
	}
	c.conv.Clear()
	c.changed()
	return nil
}

// Restore loads a saved conversation. An empty id means the store's active
// one; nothing saved yet is not an error.
func (c *Controller) Restore(id string) error {
	if c.store == nil {
		return ErrNoStore
	}
	release, err := c.acquire(eventSend)
	if err != nil {
		return err
	}
	defer release()

	if id == "" {
		id, err = c.store.ActiveID()
		if err != nil {
			return fmt.Errorf("controller: restore: %w", err)
		}
		if id == "" {
			return nil
		}
	}

	msgs, err := c.store.Load(id)
	if err != nil {
		return fmt.Errorf("controller: restore %s: %w", id, err)
	}
	c.conv.Restore(id, msgs)
	slog.Info("controller: restored conversation", "id", id, "messages", len(msgs))
	c.publish()
	return nil
}

func (c *Controller) changed() {
	c.publish()
	c.persist()
}

func (c *Controller) publish() {
	if c.feed == nil {
		return
	}
	c.feed.Publish(&ui.State{
		ConversationID: c.conv.ID(),
		Messages:       c.conv.Snapshot(),
		Busy:           c.machine.Current() != StateIdle,
	})
}

func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	id := c.conv.ID()
	if id == "" {
		return
	}
	if err := c.store.Save(id, c.conv.Snapshot()); err != nil {
		slog.Warn("controller: persist failed", "id", id, "error", err)
	}
}
