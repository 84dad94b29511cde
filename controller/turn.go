package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honganh1206/streamchat/api"
	"github.com/honganh1206/streamchat/conversation"
	"github.com/honganh1206/streamchat/fold"
	"github.com/honganh1206/streamchat/sse"
)

// turn is the state of one streamed reply.
type turn struct {
	idx     int
	folder  fold.Folder
	last    string
	adopted bool
	done    bool
}

// runTurn appends the placeholder and fills it, by stream or by fallback.
// The caller holds the lock.
func (c *Controller) runTurn(ctx context.Context, req api.TurnRequest) error {
	idx, err := c.conv.Append(conversation.Message{
		Role:      conversation.AssistantRole,
		Streaming: true,
	})
	if err != nil {
		return fmt.Errorf("controller: append placeholder: %w", err)
	}
	c.changed()

	t := &turn{idx: idx}
	// Whatever happens below, the placeholder must not stay streaming.
	defer func() {
		if !t.done {
			c.finish(t, false)
		}
	}()
	req.ConversationID = c.conv.ID()

	streamErr := c.stream(ctx, req, t)
	if streamErr == nil {
		c.finish(t, false)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.finish(t, false)
		return ctxErr
	}

	slog.Info("controller: stream failed, falling back", "error", streamErr)
	req.ConversationID = c.conv.ID()
	reply, err := c.backend.Complete(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.finish(t, false)
			return ctxErr
		}
		slog.Error("controller: fallback failed", "stream_error", streamErr, "error", err)
		c.replace(t, c.failureText)
		c.finish(t, true)
		return &TurnError{StreamErr: streamErr, FallbackErr: err}
	}

	if reply.ConversationID != "" {
		c.adopt(t, reply.ConversationID)
	}
	c.replace(t, c.normalizer.Normalize(reply.Text))
	c.finish(t, false)
	return nil
}

// stream drives the reader until end, EOF, failure or cancellation.
func (c *Controller) stream(ctx context.Context, req api.TurnRequest, t *turn) error {
	reader, err := c.backend.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer reader.Close()

	for ev, err := range reader.Events(ctx) {
		if err != nil {
			return err
		}
		switch ev.Kind {
		case sse.KindEnd:
			return nil
		case sse.KindMeta:
			if id, ok := ev.ConversationID(); ok {
				c.adopt(t, id)
			}
		case sse.KindDelta:
			c.replace(t, c.normalizer.Normalize(t.folder.Fold(ev.Payload)))
		}
	}
	return nil
}

// adopt takes the first conversation id a turn reports. Later ones are
// ignored.
func (c *Controller) adopt(t *turn, id string) {
	if t.adopted {
		return
	}
	t.adopted = true
	if c.conv.ID() == id {
		return
	}
	slog.Debug("controller: adopted conversation id", "id", id)
	c.conv.SetID(id)
	c.changed()
}

func (c *Controller) replace(t *turn, text string) {
	if text == t.last {
		return
	}
	if err := c.conv.Replace(t.idx, text); err != nil {
		slog.Warn("controller: replace placeholder", "index", t.idx, "error", err)
		return
	}
	t.last = text
	c.changed()
}

func (c *Controller) finish(t *turn, failed bool) {
	t.done = true
	if err := c.conv.Finish(t.idx, failed); err != nil {
		slog.Warn("controller: finish placeholder", "index", t.idx, "error", err)
		return
	}
	c.changed()
}
