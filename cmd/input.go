package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/honganh1206/streamchat/config"
	"github.com/peterh/liner"
	"golang.org/x/term"
)

// lineReader returns io.EOF when the user is done.
type lineReader interface {
	ReadLine() (string, error)
	Close() error
}

// newInput uses line editing with history on a terminal and a plain scanner
// otherwise, so piped input and tests work the same way.
func newInput(in io.Reader, out io.Writer) lineReader {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		dir, err := config.Dir()
		if err == nil {
			return newLinerInput(filepath.Join(dir, "history"))
		}
		slog.Warn("input history disabled", "error", err)
	}
	return &scannerInput{scanner: bufio.NewScanner(in), out: out}
}

type scannerInput struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (s *scannerInput) ReadLine() (string, error) {
	fmt.Fprintf(s.out, "\n%s> %s", colorBlue, colorReset)
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", fmt.Errorf("error reading input: %w", err)
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

func (s *scannerInput) Close() error {
	return nil
}

type linerInput struct {
	line        *liner.State
	historyFile string
}

func newLinerInput(historyFile string) *linerInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		if _, err := line.ReadHistory(f); err != nil {
			slog.Debug("reading input history", "error", err)
		}
		f.Close()
	}
	return &linerInput{line: line, historyFile: historyFile}
}

func (l *linerInput) ReadLine() (string, error) {
	fmt.Println()
	input, err := l.line.Prompt("> ")
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		l.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history and restores the terminal.
func (l *linerInput) Close() error {
	if err := os.MkdirAll(filepath.Dir(l.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(l.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			if _, err := l.line.WriteHistory(f); err != nil {
				slog.Debug("writing input history", "error", err)
			}
			f.Close()
		}
	}
	return l.line.Close()
}
