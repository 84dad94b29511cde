package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"
)

const readChunkSize = 4096

// Reader turns a byte stream into SSE events. It can be iterated once.
type Reader struct {
	body     io.Reader
	closer   io.Closer
	consumed atomic.Bool
}

func NewReader(r io.Reader) *Reader {
	rd := &Reader{body: r}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Open validates an HTTP response and wraps its body. A non-2xx status or a
// content type other than text/event-stream fails with ErrTransportUnavailable
// and closes the body.
func Open(resp *http.Response) (*Reader, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: no response", ErrTransportUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrTransportUnavailable, resp.StatusCode)
	}
	if !isEventStream(resp.Header.Get("Content-Type")) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content type %q", ErrTransportUnavailable, resp.Header.Get("Content-Type"))
	}
	return NewReader(resp.Body), nil
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/event-stream")
	}
	return mediaType == "text/event-stream"
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Events yields the stream's events in order. The sequence ends after an end
// event, at EOF, or after yielding an error. A *ReadError reports an I/O
// failure and ctx.Err() reports cancellation. Calling Events a second time
// yields ErrConsumed.
func (r *Reader) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if !r.consumed.CompareAndSwap(false, true) {
			yield(Event{}, ErrConsumed)
			return
		}

		var dec decoder
		chunk := make([]byte, readChunkSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}

			n, err := r.body.Read(chunk)
			if n > 0 {
				dec.feed(string(chunk[:n]))
				for {
					ev, ok, more := dec.next()
					if !more {
						break
					}
					if !ok {
						continue
					}
					if !yield(ev, nil) || ev.Kind == KindEnd {
						return
					}
				}
			}

			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				if ev, ok := dec.flush(); ok {
					yield(ev, nil)
				}
				return
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(Event{}, ctxErr)
				return
			}
			yield(Event{}, &ReadError{Err: err})
			return
		}
	}
}

// decoder buffers raw text and cuts it into blank-line-delimited blocks.
type decoder struct {
	buf string
	// off is where the unread part of buf begins.
	off int
	// carry holds a trailing CR that may be the first half of a CRLF split
	// across two reads.
	carry bool
}

func (d *decoder) feed(s string) {
	if d.carry {
		s = "\r" + s
		d.carry = false
	}
	if strings.HasSuffix(s, "\r") {
		d.carry = true
		s = s[:len(s)-1]
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	d.buf = d.buf[d.off:] + s
	d.off = 0
}

// next extracts one complete block. more is false when no complete block is
// buffered; ok is false when the block carried no event.
func (d *decoder) next() (ev Event, ok bool, more bool) {
	pending := d.buf[d.off:]
	idx := strings.Index(pending, "\n\n")
	if idx < 0 {
		return Event{}, false, false
	}
	d.off += idx + 2
	ev, ok = parseBlock(pending[:idx])
	return ev, ok, true
}

func (d *decoder) flush() (Event, bool) {
	rest := d.buf[d.off:]
	if d.carry {
		d.carry = false
		rest += "\n"
	}
	d.buf, d.off = "", 0
	rest = strings.TrimRight(rest, "\n")
	if strings.TrimSpace(rest) == "" {
		return Event{}, false
	}
	return parseBlock(rest)
}

func parseBlock(block string) (Event, bool) {
	var (
		name    string
		data    []string
		hasData bool
	)
	for _, line := range strings.Split(block, "\n") {
		switch {
		case line == "", strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, line[len("data:"):])
			hasData = true
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		}
	}
	if !hasData {
		return Event{}, false
	}

	payload := strings.Join(data, "\n")
	if suppressed(payload) {
		slog.Debug("sse: suppressed whitespace frame", "event", name)
		return Event{}, false
	}

	return Event{Kind: Classify(payload), Name: name, Payload: payload}, true
}
