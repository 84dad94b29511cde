package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/honganh1206/streamchat/conversation"
	"github.com/tidwall/gjson"
)

var ErrMalformedReply = errors.New("api: reply has no text field")

var (
	replyFields         = []string{"reply", "message", "content"}
	replyConversationID = []string{"conversation_id", "data.conversation_id", "meta.conversation_id"}
)

// Complete runs req without streaming and returns the full reply.
func (c *Client) Complete(ctx context.Context, req TurnRequest) (*Reply, error) {
	data, err := c.doRequest(ctx, http.MethodPost, c.paths.CompletePath, req)
	if err != nil {
		return nil, err
	}
	return parseReply(data)
}

// Regenerate asks for a new answer to the last turn of id.
func (c *Client) Regenerate(ctx context.Context, id string) (*Reply, error) {
	data, err := c.doRequest(ctx, http.MethodPost, c.paths.RegeneratePath, conversationRequest{ConversationID: id})
	if err != nil {
		return nil, notFound(err)
	}
	return parseReply(data)
}

func (c *Client) Clear(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, http.MethodPost, c.paths.ClearPath, conversationRequest{ConversationID: id})
	return notFound(err)
}

func notFound(err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return conversation.ErrConversationNotFound
	}
	return err
}

// parseReply accepts whichever conventional field carries the text.
func parseReply(data []byte) (*Reply, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: body is not JSON", ErrMalformedReply)
	}

	// Next to a data object, a top-level message is a status.
	body := gjson.ParseBytes(data)
	if d := body.Get("data"); d.IsObject() {
		body = d
	}

	reply := &Reply{}
	found := false
	for _, field := range replyFields {
		if res := body.Get(field); res.Type == gjson.String {
			reply.Text = res.Str
			found = true
			break
		}
	}
	if !found {
		return nil, ErrMalformedReply
	}

	for _, path := range replyConversationID {
		if res := gjson.GetBytes(data, path); res.Type == gjson.String && res.Str != "" {
			reply.ConversationID = res.Str
			break
		}
	}
	return reply, nil
}
