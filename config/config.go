// Package config loads streamchat settings from ~/.streamchat/config.toml.
// Missing keys fall back to defaults; STREAMCHAT_* environment variables
// override the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
)

const dirName = ".streamchat"

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Normalize NormalizeConfig `toml:"normalize"`
	Chat      ChatConfig      `toml:"chat"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	URL            string `toml:"url"`
	StreamPath     string `toml:"stream_path"`
	CompletePath   string `toml:"complete_path"`
	RegeneratePath string `toml:"regenerate_path"`
	ClearPath      string `toml:"clear_path"`
	// RequestTimeoutSecs bounds one-shot requests. Streams are not timed out.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type NormalizeConfig struct {
	MinHeading  int      `toml:"min_heading"`
	MaxHeading  int      `toml:"max_heading"`
	Disclaimers []string `toml:"disclaimers"`
}

type ChatConfig struct {
	IntroText   string `toml:"intro_text"`
	FailureText string `toml:"failure_text"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:                "http://localhost:11435",
			StreamPath:         "/chat/stream",
			CompletePath:       "/chat",
			RegeneratePath:     "/chat/regenerate",
			ClearPath:          "/chat/clear",
			RequestTimeoutSecs: 60,
		},
		Store: StoreConfig{
			Backend: "bunt",
		},
		Normalize: NormalizeConfig{
			MinHeading:  2,
			MaxHeading:  4,
			Disclaimers: []string{"以上内容仅供参考"},
		},
		Chat: ChatConfig{
			IntroText:   "您好，我已收到您的资料，正在为您分析，请稍候。",
			FailureText: "抱歉，服务暂时不可用，请稍后重试。",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Dir returns ~/.streamchat.
func Dir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, dirName), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads path over the defaults. A missing file is not an error. An empty
// path means DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	} else {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.fillStorePath(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("STREAMCHAT_SERVER_URL"); u != "" {
		c.Server.URL = u
	}
	if backend := os.Getenv("STREAMCHAT_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}
	if level := os.Getenv("STREAMCHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) fillStorePath() error {
	if c.Store.Path != "" {
		expanded, err := homedir.Expand(c.Store.Path)
		if err != nil {
			return err
		}
		c.Store.Path = expanded
		return nil
	}
	dir, err := Dir()
	if err != nil {
		return err
	}
	switch c.Store.Backend {
	case "sqlite":
		c.Store.Path = filepath.Join(dir, "conversations.sqlite")
	default:
		c.Store.Path = filepath.Join(dir, "conversations.db")
	}
	return nil
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Server.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{Field: "server.url", Message: fmt.Sprintf("invalid url %q", c.Server.URL)})
	}
	for field, p := range map[string]string{
		"server.stream_path":     c.Server.StreamPath,
		"server.complete_path":   c.Server.CompletePath,
		"server.regenerate_path": c.Server.RegeneratePath,
		"server.clear_path":      c.Server.ClearPath,
	} {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, ValidationError{Field: field, Message: "must start with /"})
		}
	}
	if c.Server.RequestTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "server.request_timeout_secs", Message: "must not be negative"})
	}

	switch c.Store.Backend {
	case "bunt", "sqlite", "memory":
	default:
		errs = append(errs, ValidationError{Field: "store.backend", Message: fmt.Sprintf("unknown backend %q, must be one of: bunt, sqlite, memory", c.Store.Backend)})
	}

	n := c.Normalize
	if n.MinHeading < 1 || n.MaxHeading > 6 || n.MinHeading > n.MaxHeading {
		errs = append(errs, ValidationError{Field: "normalize", Message: fmt.Sprintf("heading range %d..%d must lie within 1..6", n.MinHeading, n.MaxHeading)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
