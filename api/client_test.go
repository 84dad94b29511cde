package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/honganh1206/streamchat/config"
	"github.com/honganh1206/streamchat/conversation"
	"github.com/honganh1206/streamchat/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Server
	cfg.URL = srv.URL
	return NewClient(cfg)
}

func TestStream_ReadsEvents(t *testing.T) {
	var got TurnRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"conversation_id\":\"c-9\"}\n\n")
		fmt.Fprint(w, "data:你好\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	reader, err := client.Stream(context.Background(), TurnRequest{Action: ActionSend, Message: "hi"})
	require.NoError(t, err)
	defer reader.Close()

	var kinds []sse.Kind
	for ev, err := range reader.Events(context.Background()) {
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []sse.Kind{sse.KindMeta, sse.KindDelta, sse.KindEnd}, kinds)
	assert.Equal(t, TurnRequest{Action: ActionSend, Message: "hi"}, got)
}

func TestStream_TransportUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"json response", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"reply":"x"}`)
		}},
		{"bad status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.Stream(context.Background(), TurnRequest{Action: ActionSend})
			assert.ErrorIs(t, err, sse.ErrTransportUnavailable)
		})
	}
}

func TestStream_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := config.Default().Server
	cfg.URL = srv.URL
	srv.Close()

	_, err := NewClient(cfg).Stream(context.Background(), TurnRequest{Action: ActionSend})
	assert.ErrorIs(t, err, sse.ErrTransportUnavailable)
}

func TestComplete_ReplyFields(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantID string
	}{
		{"reply", `{"reply":"答案","conversation_id":"c1"}`, "答案", "c1"},
		{"message", `{"message":"答案"}`, "答案", ""},
		{"content", `{"content":"答案"}`, "答案", ""},
		{"nested", `{"data":{"reply":"答案","conversation_id":"c2"}}`, "答案", "c2"},
		{"status envelope", `{"code":0,"message":"success","data":{"reply":"答案","conversation_id":"c3"}}`, "答案", "c3"},
		{"envelope message", `{"code":0,"message":"success","data":{"message":"答案"}}`, "答案", ""},
		{"scalar data", `{"data":"x","reply":"答案"}`, "答案", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat", r.URL.Path)
				io.WriteString(w, tt.body)
			})

			reply, err := client.Complete(context.Background(), TurnRequest{Action: ActionSend, Message: "q"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Text)
			assert.Equal(t, tt.wantID, reply.ConversationID)
		})
	}
}

func TestComplete_Errors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	})
	_, err := client.Complete(context.Background(), TurnRequest{})
	assert.ErrorIs(t, err, ErrMalformedReply)

	client = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":0,"message":"success","data":{}}`)
	})
	_, err = client.Complete(context.Background(), TurnRequest{})
	assert.ErrorIs(t, err, ErrMalformedReply)

	client = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err = client.Complete(context.Background(), TurnRequest{})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
}

func TestRegenerateAndClear(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "c-1", body["conversation_id"])
		io.WriteString(w, `{"reply":"新答案"}`)
	})

	reply, err := client.Regenerate(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "新答案", reply.Text)

	require.NoError(t, client.Clear(context.Background(), "c-1"))
	assert.Equal(t, []string{"/chat/regenerate", "/chat/clear"}, paths)
}

func TestClear_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	})
	err := client.Clear(context.Background(), "gone")
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}
