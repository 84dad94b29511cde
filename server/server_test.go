package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/honganh1206/streamchat/api"
	"github.com/honganh1206/streamchat/config"
	"github.com/honganh1206/streamchat/controller"
	"github.com/honganh1206/streamchat/conversation"
	"github.com/honganh1206/streamchat/normalize"
	"github.com/honganh1206/streamchat/sse"
	"github.com/honganh1206/streamchat/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*api.Client, store.Store) {
	t.Helper()

	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	ts := httptest.NewServer(NewHandler(opts))
	t.Cleanup(ts.Close)

	cfg := config.Default().Server
	cfg.URL = ts.URL
	return api.NewClient(cfg), opts.Store
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(NewHandler(Options{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStream_WireFormat(t *testing.T) {
	client, _ := newTestServer(t, Options{ChunkSize: 1})

	reader, err := client.Stream(context.Background(), api.TurnRequest{Action: api.ActionSend, Message: "hi there\n第二行"})
	require.NoError(t, err)
	defer reader.Close()

	var (
		kinds []sse.Kind
		text  strings.Builder
		id    string
	)
	for ev, err := range reader.Events(context.Background()) {
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
		switch ev.Kind {
		case sse.KindMeta:
			id, _ = ev.ConversationID()
		case sse.KindDelta:
			text.WriteString(ev.Payload)
		}
	}

	require.NotEmpty(t, kinds)
	assert.Equal(t, sse.KindMeta, kinds[0])
	assert.Equal(t, sse.KindEnd, kinds[len(kinds)-1])
	assert.NotEmpty(t, id)
	assert.Equal(t, "你说：hi there\n第二行", text.String())
}

func TestStream_Disabled(t *testing.T) {
	client, _ := newTestServer(t, Options{DisableStreaming: true})

	_, err := client.Stream(context.Background(), api.TurnRequest{Action: api.ActionSend, Message: "hi"})
	assert.ErrorIs(t, err, sse.ErrTransportUnavailable)
}

func TestComplete_Validation(t *testing.T) {
	client, _ := newTestServer(t, Options{})

	tests := []struct {
		name string
		req  api.TurnRequest
	}{
		{"unknown action", api.TurnRequest{Action: "dance"}},
		{"empty message", api.TurnRequest{Action: api.ActionSend, Message: " "}},
		{"start without profile", api.TurnRequest{Action: api.ActionStart}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Complete(context.Background(), tt.req)
			var httpErr *api.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		})
	}
}

func TestComplete_RecordsExchange(t *testing.T) {
	client, st := newTestServer(t, Options{})

	reply, err := client.Complete(context.Background(), api.TurnRequest{Action: api.ActionQuickAction, Label: "运势", Message: "今天如何"})
	require.NoError(t, err)
	assert.Equal(t, "### 运势\n\n今天如何", reply.Text)
	require.NotEmpty(t, reply.ConversationID)

	msgs, err := st.Load(reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "运势", msgs[0].Content)
	assert.Equal(t, reply.Text, msgs[1].Content)
}

func TestDecode_BadBody(t *testing.T) {
	ts := httptest.NewServer(NewHandler(Options{}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Invalid request body", body["error"])
}

func TestRegenerateAndClear_Unknown(t *testing.T) {
	client, _ := newTestServer(t, Options{})

	_, err := client.Regenerate(context.Background(), "missing")
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
	assert.ErrorIs(t, client.Clear(context.Background(), "missing"), conversation.ErrConversationNotFound)
}

func TestController_EndToEnd(t *testing.T) {
	client, _ := newTestServer(t, Options{ChunkSize: 3})
	mem := store.NewMemory()
	c := controller.New(client, conversation.New(), controller.WithStore(mem))
	ctx := context.Background()

	require.NoError(t, c.SendTurn(ctx, "你好"))
	msgs := c.Conversation().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, normalize.Normalize(EchoReplier(api.TurnRequest{Action: api.ActionSend, Message: "你好"}, 1)), msgs[1].Content)
	assert.False(t, msgs[1].Streaming)
	id := c.Conversation().ID()
	require.NotEmpty(t, id)

	require.NoError(t, c.SendTurn(ctx, "再见"))
	assert.Equal(t, id, c.Conversation().ID())
	assert.Equal(t, 4, c.Conversation().Len())

	require.NoError(t, c.RegenerateLastTurn(ctx))
	assert.Contains(t, c.Conversation().Snapshot()[3].Content, "第 2 次生成")

	saved, err := mem.Load(id)
	require.NoError(t, err)
	assert.Equal(t, c.Conversation().Snapshot(), saved)

	require.NoError(t, c.ClearConversation(ctx))
	assert.Equal(t, 0, c.Conversation().Len())
	assert.Equal(t, id, c.Conversation().ID())

	err = c.RegenerateLastTurn(ctx)
	assert.True(t, errors.Is(err, controller.ErrNothingToRegenerate))
}

func TestController_FallbackMatchesStream(t *testing.T) {
	req := func(c *controller.Controller) string {
		require.NoError(t, c.SendTurn(context.Background(), "结果如何"))
		return c.Conversation().Snapshot()[1].Content
	}

	streaming, _ := newTestServer(t, Options{ChunkSize: 2})
	oneShot, _ := newTestServer(t, Options{DisableStreaming: true})

	streamed := req(controller.New(streaming, conversation.New()))
	fallback := req(controller.New(oneShot, conversation.New()))
	assert.Equal(t, streamed, fallback)
	assert.Equal(t, "你说：结果如何\n\n", fallback)
}

func TestController_StartTurn(t *testing.T) {
	client, _ := newTestServer(t, Options{ChunkSize: 4})
	c := controller.New(client, conversation.New(), controller.WithIntroText("欢迎"))

	require.NoError(t, c.StartTurn(context.Background(), api.Profile{Name: "李四", BirthDate: "1990-05-01", Location: "北京"}))

	msgs := c.Conversation().Snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsIntro())
	assert.Contains(t, msgs[1].Content, "## 你好，李四\n\n")
	assert.Contains(t, msgs[1].Content, "- 出生地点：北京")
}

func TestController_PacedStream(t *testing.T) {
	client, _ := newTestServer(t, Options{ChunkSize: 1, ChunkDelay: time.Millisecond})
	c := controller.New(client, conversation.New())

	require.NoError(t, c.SendTurn(context.Background(), "慢一点"))
	assert.Equal(t, "你说：慢一点\n\n", c.Conversation().Snapshot()[1].Content)
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"runes", "你好世界", 2, []string{"你好", "世界"}},
		{"remainder", "abcde", 2, []string{"ab", "cd", "e"}},
		{"space merged forward", "a b", 1, []string{"a", " b"}},
		{"trailing newline kept", "a\n", 1, []string{"a", "\n"}},
		{"marker run kept whole", "a###b", 2, []string{"a###", "b"}},
		{"dash run", "x---", 2, []string{"x---"}},
		{"empty", "", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunk(tt.text, tt.size))
		})
	}
}
