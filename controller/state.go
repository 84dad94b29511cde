package controller

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

const (
	StateIdle      = "idle"
	StateStreaming = "streaming"
	StateSending   = "sending"
)

const (
	eventStream = "stream"
	eventSend   = "send"
	eventFinish = "finish"
)

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStream, Src: []string{StateIdle}, Dst: StateStreaming},
			{Name: eventSend, Src: []string{StateIdle}, Dst: StateSending},
			{Name: eventFinish, Src: []string{StateStreaming, StateSending}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				slog.Debug("controller: state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}
