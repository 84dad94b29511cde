package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/honganh1206/streamchat/sse"
)

// Stream opens the event stream for req. Failures to connect or a response
// that is not an event stream wrap sse.ErrTransportUnavailable; cancellation
// returns ctx.Err().
func (c *Client) Stream(ctx context.Context, req TurnRequest) (*sse.Reader, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.paths.StreamPath, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", sse.ErrTransportUnavailable, err)
	}

	slog.Debug("stream opened", "status", resp.StatusCode, "content_type", resp.Header.Get("Content-Type"))
	return sse.Open(resp)
}
