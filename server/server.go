// Package server is a local stand-in for the remote chat service. It speaks
// the same wire format: a stream endpoint that sends a meta frame, rune
// chunks and [DONE], plus the one-shot, regenerate and clear endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/honganh1206/streamchat/api"
	"github.com/honganh1206/streamchat/config"
	"github.com/honganh1206/streamchat/store"
)

const defaultChunkSize = 2

// Replier produces the reply text for a turn. attempt counts regenerations
// and starts at 1.
type Replier func(req api.TurnRequest, attempt int) string

type Options struct {
	Paths   config.ServerConfig
	Store   store.Store
	Replier Replier
	// DisableStreaming makes the stream endpoint answer 503, which clients
	// treat as an unavailable transport.
	DisableStreaming bool
	ChunkSize        int
	ChunkDelay       time.Duration
}

type server struct {
	opts Options

	mu       sync.Mutex
	turns    map[string]api.TurnRequest
	attempts map[string]int
}

func NewHandler(opts Options) http.Handler {
	defaults := config.Default().Server
	if opts.Paths.StreamPath == "" {
		opts.Paths.StreamPath = defaults.StreamPath
	}
	if opts.Paths.CompletePath == "" {
		opts.Paths.CompletePath = defaults.CompletePath
	}
	if opts.Paths.RegeneratePath == "" {
		opts.Paths.RegeneratePath = defaults.RegeneratePath
	}
	if opts.Paths.ClearPath == "" {
		opts.Paths.ClearPath = defaults.ClearPath
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Replier == nil {
		opts.Replier = EchoReplier
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = defaultChunkSize
	}

	srv := &server{
		opts:     opts,
		turns:    make(map[string]api.TurnRequest),
		attempts: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST "+opts.Paths.StreamPath, srv.streamHandler)
	mux.HandleFunc("POST "+opts.Paths.CompletePath, srv.completeHandler)
	mux.HandleFunc("POST "+opts.Paths.RegeneratePath, srv.regenerateHandler)
	mux.HandleFunc("POST "+opts.Paths.ClearPath, srv.clearHandler)
	return logRequests(mux)
}

// Serve runs the dev backend on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, opts Options) error {
	httpServer := &http.Server{
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server: shutdown", "error", err)
		}
	}()

	slog.Info("server: listening", "addr", ln.Addr().String(), "streaming", !opts.DisableStreaming)
	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", r.Header.Get("X-Request-ID"),
			"duration", time.Since(start))
	})
}
