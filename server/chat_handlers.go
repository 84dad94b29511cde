package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honganh1206/streamchat/api"
	"github.com/honganh1206/streamchat/conversation"
	"github.com/honganh1206/streamchat/fold"
	"golang.org/x/time/rate"
)

type replyResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversation_id"`
}

type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (s *server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.DisableStreaming {
		handleError(w, &HTTPError{Code: http.StatusServiceUnavailable, Message: "Streaming disabled", Err: ErrStreamingOff})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		handleError(w, &HTTPError{Code: http.StatusInternalServerError, Message: "Streaming unsupported", Err: ErrFlushUnsupported})
		return
	}

	var req api.TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}
	id, text, err := s.reply(req)
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	meta, _ := json.Marshal(map[string]any{"meta": map[string]string{"conversation_id": id}})
	writeFrame(w, string(meta))
	flusher.Flush()

	var limiter *rate.Limiter
	if s.opts.ChunkDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.ChunkDelay), 1)
	}
	for _, piece := range chunk(text, s.opts.ChunkSize) {
		if limiter != nil {
			if err := limiter.Wait(r.Context()); err != nil {
				return
			}
		}
		writeFrame(w, piece)
		flusher.Flush()
	}
	writeFrame(w, "[DONE]")
	flusher.Flush()
}

func (s *server) completeHandler(w http.ResponseWriter, r *http.Request) {
	var req api.TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}
	id, text, err := s.reply(req)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{Reply: text, ConversationID: id})
}

func (s *server) regenerateHandler(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}

	s.mu.Lock()
	turn, ok := s.turns[req.ConversationID]
	if ok {
		s.attempts[req.ConversationID]++
	}
	attempt := s.attempts[req.ConversationID]
	s.mu.Unlock()
	if !ok {
		handleError(w, conversation.ErrConversationNotFound)
		return
	}

	text := s.opts.Replier(turn, attempt)
	if err := s.overwriteReply(req.ConversationID, text); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{Reply: text, ConversationID: req.ConversationID})
}

func (s *server) clearHandler(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}
	if _, err := s.opts.Store.Load(req.ConversationID); err != nil {
		handleError(w, err)
		return
	}
	if err := s.opts.Store.Save(req.ConversationID, nil); err != nil {
		handleError(w, err)
		return
	}

	s.mu.Lock()
	delete(s.turns, req.ConversationID)
	delete(s.attempts, req.ConversationID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "conversation cleared"})
}

func validate(req api.TurnRequest) error {
	switch req.Action {
	case api.ActionStart:
		if req.Profile == nil {
			return &HTTPError{Code: http.StatusBadRequest, Message: "Profile is required", Err: ErrBadRequest}
		}
	case api.ActionSend, api.ActionQuickAction:
		if strings.TrimSpace(req.Message) == "" {
			return &HTTPError{Code: http.StatusBadRequest, Message: "Message is required", Err: ErrBadRequest}
		}
	default:
		return &HTTPError{Code: http.StatusBadRequest, Message: fmt.Sprintf("Unknown action %q", req.Action), Err: ErrBadRequest}
	}
	return nil
}

// reply answers req and records the exchange. A request without an id
// starts a new conversation.
func (s *server) reply(req api.TurnRequest) (string, string, error) {
	if err := validate(req); err != nil {
		return "", "", err
	}
	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	text := s.opts.Replier(req, 1)

	s.mu.Lock()
	s.turns[id] = req
	s.attempts[id] = 1
	s.mu.Unlock()

	msgs, err := s.opts.Store.Load(id)
	if err != nil && !errors.Is(err, conversation.ErrConversationNotFound) {
		return "", "", err
	}
	now := time.Now().UTC()
	msgs = append(msgs,
		conversation.Message{Role: conversation.UserRole, Content: userText(req), Sequence: len(msgs), CreatedAt: now},
		conversation.Message{Role: conversation.AssistantRole, Content: text, Sequence: len(msgs) + 1, CreatedAt: now},
	)
	if err := s.opts.Store.Save(id, msgs); err != nil {
		return "", "", err
	}
	return id, text, nil
}

func (s *server) overwriteReply(id, text string) error {
	msgs, err := s.opts.Store.Load(id)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.AssistantRole {
			msgs[i].Content = text
			return s.opts.Store.Save(id, msgs)
		}
	}
	return conversation.ErrConversationNotFound
}

func userText(req api.TurnRequest) string {
	switch {
	case req.Label != "":
		return req.Label
	case req.Message != "":
		return req.Message
	case req.Profile != nil:
		return "profile: " + req.Profile.Name
	}
	return ""
}

// EchoReplier answers with the user's own words, which is enough to exercise
// every client path.
func EchoReplier(req api.TurnRequest, attempt int) string {
	var text string
	switch req.Action {
	case api.ActionStart:
		name := "朋友"
		if req.Profile != nil && req.Profile.Name != "" {
			name = req.Profile.Name
		}
		text = fmt.Sprintf("## 你好，%s\n\n已收到你的资料。\n- 出生日期：%s\n- 出生地点：%s",
			name, profileField(req.Profile, func(p *api.Profile) string { return p.BirthDate }),
			profileField(req.Profile, func(p *api.Profile) string { return p.Location }))
	case api.ActionQuickAction:
		text = fmt.Sprintf("### %s\n\n%s", req.Label, req.Message)
	default:
		text = "你说：" + req.Message
	}
	if attempt > 1 {
		text += fmt.Sprintf("\n\n（第 %d 次生成）", attempt)
	}
	return text
}

func profileField(p *api.Profile, get func(*api.Profile) string) string {
	if p == nil || get(p) == "" {
		return "未知"
	}
	return get(p)
}

// writeFrame sends payload as one SSE block. Each line becomes a data line
// with no space after the colon.
func writeFrame(w http.ResponseWriter, payload string) {
	var b strings.Builder
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString("data:")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	_, _ = w.Write([]byte(b.String()))
}

// chunk splits text into pieces of size runes. A run of markdown marker
// runes is never split, the way a tokenizer emits "###" as one token.
// Whitespace-only pieces are merged into the next one, since clients drop
// them as keep-alives.
func chunk(text string, size int) []string {
	rs := []rune(text)
	var (
		out     []string
		pending string
	)
	for i := 0; i < len(rs); {
		end := min(i+size, len(rs))
		for end < len(rs) && isMarker(rs[end-1]) && isMarker(rs[end]) {
			end++
		}
		piece := pending + string(rs[i:end])
		i = end
		if strings.TrimSpace(piece) == "" && end < len(rs) {
			pending = piece
			continue
		}
		pending = ""
		out = append(out, piece)
	}
	return out
}

func isMarker(r rune) bool {
	return r == '#' || r == '＃' || r == '*' || fold.IsDash(r)
}
