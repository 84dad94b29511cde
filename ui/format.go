package ui

import (
	"fmt"
	"strings"
)

const (
	SuccessSymbol = "✓"
	ErrorSymbol   = "✗"

	colorReset = "\033[0m"
	colorBlue  = "\033[34m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
)

// Outcome describes how a command ended, for the status line under a reply.
type Outcome struct {
	Name    string
	Detail  string
	IsError bool
}

func FormatOutcome(o Outcome) string {
	symbol, color := SuccessSymbol, colorGreen
	if o.IsError {
		symbol, color = ErrorSymbol, colorRed
	}
	if o.Detail != "" {
		return fmt.Sprintf("%s%s%s %s %s%s%s\n", color, symbol, colorReset, o.Name, colorBlue, o.Detail, colorReset)
	}
	return fmt.Sprintf("%s%s%s %s\n", color, symbol, colorReset, o.Name)
}

// Increment returns what to write to a terminal that already shows printed
// so that it shows next. Trailing blank lines are held back because a later
// delta may continue the same line. rewrite is true when next changed text
// that was already written.
func Increment(printed, next string) (text string, rewrite bool) {
	target := strings.TrimRight(next, " \n")
	if strings.HasPrefix(target, printed) {
		return target[len(printed):], false
	}
	return target, true
}
