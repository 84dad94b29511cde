package sse

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r *Reader) ([]Event, error) {
	t.Helper()

	var events []Event
	for ev, err := range r.Events(context.Background()) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

const sampleStream = "data: {\"conversation_id\":\"c-1\"}\n\n" +
	"data:你好\n\n" +
	"data: world\n\n" +
	": keep-alive\n\n" +
	"data:\n\n" +
	"data: \n\n" +
	"event: delta\ndata:line one\ndata:line two\n\n" +
	"data: [DONE]\n\n" +
	"data:after end\n\n"

func TestEvents_Classification(t *testing.T) {
	events, err := collect(t, NewReader(strings.NewReader(sampleStream)))
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, KindMeta, events[0].Kind)
	id, ok := events[0].ConversationID()
	assert.True(t, ok)
	assert.Equal(t, "c-1", id)

	assert.Equal(t, Event{Kind: KindDelta, Payload: "你好"}, events[1])
	// Leading whitespace after the data prefix is part of the payload.
	assert.Equal(t, " world", events[2].Payload)
	assert.Equal(t, Event{Kind: KindDelta, Name: "delta", Payload: "line one\nline two"}, events[3])
	assert.Equal(t, KindEnd, events[4].Kind)
}

func TestEvents_ChunkBoundaryIndependent(t *testing.T) {
	whole, err := collect(t, NewReader(strings.NewReader(sampleStream)))
	require.NoError(t, err)

	oneByte, err := collect(t, NewReader(iotest.OneByteReader(strings.NewReader(sampleStream))))
	require.NoError(t, err)

	half, err := collect(t, NewReader(iotest.HalfReader(strings.NewReader(sampleStream))))
	require.NoError(t, err)

	assert.Equal(t, whole, oneByte)
	assert.Equal(t, whole, half)
}

func TestEvents_SplitMultibyteRune(t *testing.T) {
	raw := []byte("data:世界\n\n")
	// Cut inside the first rune of the payload.
	first, second := raw[:6], raw[6:]
	r := NewReader(io.MultiReader(strings.NewReader(string(first)), strings.NewReader(string(second))))

	events, err := collect(t, r)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "世界", events[0].Payload)
}

func TestEvents_CRLF(t *testing.T) {
	stream := "data:a\r\n\r\ndata:b\r\n\r\ndata:[DONE]\r\n\r\n"
	events, err := collect(t, NewReader(iotest.OneByteReader(strings.NewReader(stream))))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].Payload)
	assert.Equal(t, "b", events[1].Payload)
	assert.Equal(t, KindEnd, events[2].Kind)
}

func TestEvents_EOFWithoutDone(t *testing.T) {
	events, err := collect(t, NewReader(strings.NewReader("data:one\n\ndata:two")))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "two", events[1].Payload)
}

func TestEvents_NewlineOnlyPayloadKept(t *testing.T) {
	events, err := collect(t, NewReader(strings.NewReader("data:\ndata:\n\n")))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "\n", events[0].Payload)
}

func TestEvents_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	body := io.MultiReader(strings.NewReader("data:partial\n\n"), iotest.ErrReader(boom))

	events, err := collect(t, NewReader(body))
	require.Len(t, events, 1)

	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, boom)
}

func TestEvents_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got error
	for _, err := range NewReader(strings.NewReader(sampleStream)).Events(ctx) {
		got = err
	}
	assert.ErrorIs(t, got, context.Canceled)
}

func TestEvents_StopEarly(t *testing.T) {
	r := NewReader(strings.NewReader(sampleStream))
	count := 0
	for range r.Events(context.Background()) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestEvents_NotRestartable(t *testing.T) {
	r := NewReader(strings.NewReader(sampleStream))
	_, err := collect(t, r)
	require.NoError(t, err)

	_, err = collect(t, r)
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestDecoder_ManyBlocksInOneRead(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 1000; i++ {
		b.WriteString("data:x\n\n")
	}
	b.WriteString("data:tail")

	var d decoder
	d.feed(b.String())
	count := 0
	for {
		ev, ok, more := d.next()
		if !more {
			break
		}
		require.True(t, ok)
		assert.Equal(t, "x", ev.Payload)
		count++
	}
	assert.Equal(t, 1000, count)

	d.feed("\n\n")
	assert.Equal(t, 0, d.off)
	assert.Equal(t, "data:tail\n\n", d.buf)
	ev, ok, more := d.next()
	require.True(t, more)
	require.True(t, ok)
	assert.Equal(t, "tail", ev.Payload)

	_, ok = d.flush()
	assert.False(t, ok)
}

func TestDecoder_FlushCarriedCR(t *testing.T) {
	var d decoder
	d.feed("data:end\r")
	ev, ok := d.flush()
	require.True(t, ok)
	assert.Equal(t, "end", ev.Payload)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		wantErr     bool
	}{
		{"event stream", http.StatusOK, "text/event-stream", false},
		{"with charset", http.StatusOK, "text/event-stream; charset=utf-8", false},
		{"json body", http.StatusOK, "application/json", true},
		{"server error", http.StatusBadGateway, "text/event-stream", true},
		{"missing type", http.StatusOK, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Header:     http.Header{"Content-Type": []string{tt.contentType}},
				Body:       io.NopCloser(strings.NewReader("data:x\n\n")),
			}
			r, err := Open(resp)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTransportUnavailable)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			events, err := collect(t, r)
			require.NoError(t, err)
			assert.Len(t, events, 1)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindEnd, Classify(" [DONE] "))
	assert.Equal(t, KindMeta, Classify(`{"meta":{"conversation_id":"x"}}`))
	assert.Equal(t, KindDelta, Classify(`{"unterminated":`))
	assert.Equal(t, KindDelta, Classify(`[1,2]`))
	assert.Equal(t, KindDelta, Classify("plain"))
}

func TestConversationID_Nested(t *testing.T) {
	for _, payload := range []string{
		`{"conversation_id":"a"}`,
		`{"meta":{"conversation_id":"a"}}`,
		`{"data":{"conversation_id":"a"}}`,
	} {
		id, ok := Event{Kind: KindMeta, Payload: payload}.ConversationID()
		assert.True(t, ok, payload)
		assert.Equal(t, "a", id)
	}

	_, ok := Event{Kind: KindMeta, Payload: `{"conversation_id":7}`}.ConversationID()
	assert.False(t, ok)
}
