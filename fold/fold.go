// Package fold accumulates raw stream deltas into one turn's text buffer.
package fold

import (
	"strings"
	"unicode/utf8"
)

type Token int

const (
	TokenText Token = iota
	TokenEmpty
	TokenHeading
	TokenList
	TokenSeparator
)

func (t Token) String() string {
	switch t {
	case TokenEmpty:
		return "empty"
	case TokenHeading:
		return "heading"
	case TokenList:
		return "list"
	case TokenSeparator:
		return "separator"
	default:
		return "text"
	}
}

// IsDash reports runes that act as list markers or separators.
func IsDash(r rune) bool {
	switch r {
	case '-', '‐', '‑', '‒', '–', '—', '―', '−', '－':
		return true
	}
	return false
}

// Classify decides how payload is folded into a buffer.
func Classify(payload string) Token {
	if payload == "" {
		return TokenEmpty
	}
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return TokenText
	}
	if _, ok := headingLevel(trimmed); ok {
		return TokenHeading
	}
	n := utf8.RuneCountInString(trimmed)
	if strings.IndexFunc(trimmed, func(r rune) bool { return !IsDash(r) }) >= 0 {
		return TokenText
	}
	if n == 1 {
		return TokenList
	}
	if n >= 3 {
		return TokenSeparator
	}
	return TokenText
}

// headingLevel recognizes a bare run of one to six heading markers, half or
// full width.
func headingLevel(s string) (int, bool) {
	level := 0
	for _, r := range s {
		if r != '#' && r != '＃' {
			return 0, false
		}
		level++
	}
	if level < 1 || level > 6 {
		return 0, false
	}
	return level, true
}

// Fold returns buffer with payload folded in.
func Fold(buffer, payload string) string {
	switch Classify(payload) {
	case TokenEmpty, TokenSeparator:
		return buffer
	case TokenHeading:
		level, _ := headingLevel(strings.TrimSpace(payload))
		buffer = strings.TrimRight(buffer, " \t\r\n")
		if buffer != "" {
			buffer += "\n\n"
		}
		return buffer + strings.Repeat("#", level) + " "
	case TokenList:
		buffer = strings.TrimRight(buffer, " \t")
		if buffer != "" && !strings.HasSuffix(buffer, "\n") {
			buffer += "\n"
		}
		return buffer + "- "
	default:
		return buffer + payload
	}
}

// Folder holds the raw buffer of a single turn.
type Folder struct {
	buf string
}

func (f *Folder) Fold(payload string) string {
	f.buf = Fold(f.buf, payload)
	return f.buf
}

func (f *Folder) String() string {
	return f.buf
}
