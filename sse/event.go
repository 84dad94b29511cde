package sse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const DoneToken = "[DONE]"

type Kind string

const (
	KindMeta  Kind = "meta"
	KindDelta Kind = "delta"
	KindEnd   Kind = "end"
)

var (
	// ErrTransportUnavailable means the response cannot be read as an event
	// stream at all. Callers fall back to a one-shot request.
	ErrTransportUnavailable = errors.New("sse: transport unavailable")
	ErrConsumed             = errors.New("sse: reader already consumed")
)

// ReadError wraps an I/O failure that happened after the stream was opened.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("sse: stream read failed: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

type Event struct {
	Kind Kind
	// Name is the value of the block's "event:" field, if any.
	Name    string
	Payload string
}

var conversationIDPaths = []string{
	"conversation_id",
	"meta.conversation_id",
	"data.conversation_id",
}

// ConversationID returns the conversation id carried by a meta payload.
func (e Event) ConversationID() (string, bool) {
	if e.Kind != KindMeta {
		return "", false
	}
	for _, path := range conversationIDPaths {
		res := gjson.Get(e.Payload, path)
		if res.Type == gjson.String && res.Str != "" {
			return res.Str, true
		}
	}
	return "", false
}

// Classify decides the kind of a raw data payload.
func Classify(payload string) Kind {
	trimmed := strings.TrimSpace(payload)
	if trimmed == DoneToken {
		return KindEnd
	}
	if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) && gjson.Parse(trimmed).IsObject() {
		return KindMeta
	}
	return KindDelta
}

// suppressed reports payloads that carry nothing but structural whitespace:
// an empty data line, or the single separator space of "data: ".
func suppressed(payload string) bool {
	p := strings.Trim(payload, "\r")
	return p == "" || p == " "
}
