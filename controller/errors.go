package controller

import (
	"errors"
	"fmt"
)

var (
	// ErrLockBusy rejects an operation while another one holds the
	// conversation. Nothing is queued and no state changes.
	ErrLockBusy            = errors.New("controller: conversation is busy")
	ErrFallbackFailed      = errors.New("controller: streaming and fallback both failed")
	ErrNothingToRegenerate = errors.New("controller: no reply to regenerate")
	ErrNoConversation      = errors.New("controller: conversation has no id yet")
	ErrEmptyMessage        = errors.New("controller: message is empty")
	ErrNoStore             = errors.New("controller: no store configured")
)

// TurnError reports a turn whose stream and fallback both failed. It matches
// ErrFallbackFailed with errors.Is.
type TurnError struct {
	StreamErr   error
	FallbackErr error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("controller: turn failed: stream: %v; fallback: %v", e.StreamErr, e.FallbackErr)
}

func (e *TurnError) Unwrap() []error {
	return []error{ErrFallbackFailed, e.StreamErr, e.FallbackErr}
}
