package api

import (
	"net/http"

	"github.com/honganh1206/streamchat/config"
)

type Client struct {
	baseURL string
	paths   config.ServerConfig
	// httpClient carries the one-shot timeout; streamClient has none so a
	// long reply is never cut off.
	httpClient   *http.Client
	streamClient *http.Client
}

func NewClient(cfg config.ServerConfig) *Client {
	if cfg.URL == "" {
		cfg.URL = config.Default().Server.URL
	}
	return &Client{
		baseURL:      cfg.URL,
		paths:        cfg,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout()},
		streamClient: &http.Client{},
	}
}
