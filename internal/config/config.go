package config

import (
	"fmt"
	"time"
)

type Config struct {
	BaseURL          string
	WebsocketURL     string
	DebugAddr        string
	MaxReconnects    int
	ReconnectBackoff time.Duration
	RequestTimeout   time.Duration
	PageSize         int
}

const (
	defaultMaxReconnects    = 5
	defaultReconnectBackoff = 2 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultPageSize         = 20
)

func NewConfig(baseURL, websocketURL, debugAddr string) (*Config, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if websocketURL == "" {
		return nil, fmt.Errorf("websocket URL cannot be empty")
	}

	return &Config{
		BaseURL:          baseURL,
		WebsocketURL:     websocketURL,
		DebugAddr:        debugAddr,
		MaxReconnects:    defaultMaxReconnects,
		ReconnectBackoff: defaultReconnectBackoff,
		RequestTimeout:   defaultRequestTimeout,
		PageSize:         defaultPageSize,
	}, nil
}
