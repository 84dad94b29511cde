package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/honganh1206/streamchat/api"
	"github.com/honganh1206/streamchat/controller"
	"github.com/honganh1206/streamchat/conversation"
	"github.com/honganh1206/streamchat/ui"
	"github.com/honganh1206/streamchat/utils"
	"github.com/mitchellh/go-homedir"
)

const (
	colorReset = "\033[0m"
	colorBlue  = "\033[34m"
	colorRed   = "\033[31m"
	colorGray  = "\033[90m"
)

type commandKind int

const (
	cmdSend commandKind = iota
	cmdStart
	cmdQuick
	cmdRegen
	cmdClear
	cmdHelp
	cmdExit
)

type command struct {
	kind  commandKind
	text  string
	label string
}

var errUsage = errors.New("usage")

// parseCommand reads one input line. Anything that is not a slash command is
// a message.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSend, text: line}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/exit", "/quit":
		return command{kind: cmdExit}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/regen":
		return command{kind: cmdRegen}, nil
	case "/clear":
		return command{kind: cmdClear}, nil
	case "/start":
		if rest == "" {
			return command{}, fmt.Errorf("%w: /start <profile.json>", errUsage)
		}
		return command{kind: cmdStart, text: rest}, nil
	case "/quick":
		label, prompt, _ := strings.Cut(rest, " ")
		prompt = strings.TrimSpace(prompt)
		if label == "" || prompt == "" {
			return command{}, fmt.Errorf("%w: /quick <label> <prompt>", errUsage)
		}
		return command{kind: cmdQuick, label: label, text: prompt}, nil
	}
	return command{}, fmt.Errorf("unknown command %s, try /help", name)
}

func loadProfile(path string) (api.Profile, error) {
	var profile api.Profile
	expanded, err := homedir.Expand(path)
	if err != nil {
		return profile, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return profile, err
	}
	if err := json.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("parsing %s: %w", path, err)
	}
	return profile, nil
}

// renderer prints the reply being streamed. It only ever appends to what the
// terminal shows, unless normalization rewrote text already printed.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	idx     int
	created time.Time
	printed string
	done    bool
}

// newRenderer starts after history, which is already on screen.
func newRenderer(out io.Writer, history []conversation.Message) *renderer {
	r := &renderer{out: out, idx: len(history) - 1, done: true}
	if len(history) > 0 {
		r.created = history[len(history)-1].CreatedAt
	}
	return r
}

func (r *renderer) render(s *ui.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := len(s.Messages) - 1
	if last < 0 {
		r.idx, r.printed, r.done = -1, "", true
		return
	}
	msg := s.Messages[last]
	if msg.Role != conversation.AssistantRole {
		return
	}
	// A reset conversation reuses indexes.
	if last != r.idx || !msg.CreatedAt.Equal(r.created) {
		r.idx, r.created, r.printed, r.done = last, msg.CreatedAt, "", false
		fmt.Fprintln(r.out)
	}
	if r.done {
		return
	}

	text, rewrite := ui.Increment(r.printed, msg.Content)
	if rewrite {
		fmt.Fprintf(r.out, "\n%s(revised)%s\n", colorGray, colorReset)
	}
	fmt.Fprint(r.out, text)
	r.printed = strings.TrimRight(msg.Content, " \n")

	if !msg.Streaming {
		r.done = true
		if msg.Failed {
			fmt.Fprintf(r.out, " %s%s%s", colorRed, ui.ErrorSymbol, colorReset)
		}
		fmt.Fprintln(r.out)
	}
}

// run renders states until ctx is done. A request on flush drains what is
// queued and is then acknowledged.
func (r *renderer) run(ctx context.Context, feed *ui.Feed, flush <-chan chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-feed.Subscribe():
			r.render(s)
		case ack := <-flush:
			for drained := false; !drained; {
				select {
				case s := <-feed.Subscribe():
					r.render(s)
				default:
					drained = true
				}
			}
			close(ack)
		}
	}
}

func cli(ctx context.Context, ctrl *controller.Controller, feed *ui.Feed, in io.Reader, out io.Writer) error {
	history := ctrl.Conversation().Snapshot()
	if len(history) == 0 {
		printWelcome(out)
	} else {
		printConversationHistory(out, history)
	}

	// Restore published before anyone listened.
	for drained := false; !drained; {
		select {
		case <-feed.Subscribe():
		default:
			drained = true
		}
	}

	r := newRenderer(out, history)
	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()
	flushReq := make(chan chan struct{})
	go r.run(renderCtx, feed, flushReq)
	flush := func() {
		ack := make(chan struct{})
		select {
		case flushReq <- ack:
			<-ack
		case <-renderCtx.Done():
		}
	}

	input := newInput(in, out)
	defer input.Close()

	for {
		line, err := input.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cmd, err := parseCommand(line)
		if err != nil {
			fmt.Fprint(out, ui.FormatOutcome(ui.Outcome{Name: "input", Detail: err.Error(), IsError: true}))
			continue
		}
		if cmd.kind == cmdSend && cmd.text == "" {
			continue
		}
		if cmd.kind == cmdExit {
			return nil
		}

		err = dispatch(ctx, ctrl, cmd, out)
		flush()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if cmd.kind == cmdRegen && err == nil {
			printLastReply(out, ctrl.Conversation().Snapshot())
		}
		if err != nil {
			fmt.Fprint(out, ui.FormatOutcome(ui.Outcome{Name: commandName(cmd.kind), Detail: err.Error(), IsError: true}))
		}
	}
}

func dispatch(ctx context.Context, ctrl *controller.Controller, cmd command, out io.Writer) error {
	switch cmd.kind {
	case cmdHelp:
		fmt.Fprint(out, helpText)
		return nil
	case cmdStart:
		profile, err := loadProfile(cmd.text)
		if err != nil {
			return err
		}
		return ctrl.StartTurn(ctx, profile)
	case cmdQuick:
		return ctrl.SendQuickAction(ctx, cmd.label, cmd.text)
	case cmdRegen:
		return ctrl.RegenerateLastTurn(ctx)
	case cmdClear:
		if err := ctrl.ClearConversation(ctx); err != nil {
			return err
		}
		fmt.Fprint(out, ui.FormatOutcome(ui.Outcome{Name: "clear", Detail: ctrl.Conversation().ID()}))
		return nil
	default:
		return ctrl.SendTurn(ctx, cmd.text)
	}
}

func commandName(kind commandKind) string {
	switch kind {
	case cmdStart:
		return "start"
	case cmdQuick:
		return "quick"
	case cmdRegen:
		return "regen"
	case cmdClear:
		return "clear"
	default:
		return "send"
	}
}

const helpText = `Commands:
  /start <profile.json>   begin with profile data
  /quick <label> <prompt> send a quick action
  /regen                  regenerate the last reply
  /clear                  clear the conversation
  /exit                   quit
Anything else is sent as a message.
`

func printWelcome(out io.Writer) {
	fmt.Fprint(out, utils.RenderBox("streamchat", []string{
		"Type a message to chat, or /help for commands.",
		"/start <profile.json> begins a reading from your profile.",
	}))
}

func printConversationHistory(out io.Writer, msgs []conversation.Message) {
	for _, msg := range msgs {
		fmt.Fprint(out, formatMessagePlain(msg))
	}
}

func printLastReply(out io.Writer, msgs []conversation.Message) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.AssistantRole && !msgs[i].IsIntro() {
			fmt.Fprint(out, formatMessagePlain(msgs[i]))
			return
		}
	}
}

func formatMessagePlain(msg conversation.Message) string {
	var b strings.Builder
	switch msg.Role {
	case conversation.UserRole:
		b.WriteString(fmt.Sprintf("\n%s> %s", colorBlue, colorReset))
	default:
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimRight(msg.Content, " \n"))
	if msg.Failed {
		b.WriteString(fmt.Sprintf(" %s%s%s", colorRed, ui.ErrorSymbol, colorReset))
	}
	b.WriteString("\n")
	return b.String()
}
