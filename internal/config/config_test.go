package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		baseURL = "http://localhost:8080"
		wsURL   = "ws://localhost:8080/ws"
	)

	tcases := []struct {
		name    string
		baseURL string
		wsURL   string
		err     bool
	}{
		{
			name:    "valid config",
			baseURL: baseURL,
			wsURL:   wsURL,
			err:     false,
		},
		{
			name:    "empty base URL",
			baseURL: "",
			wsURL:   wsURL,
			err:     true,
		},
		{
			name:    "empty websocket URL",
			baseURL: baseURL,
			wsURL:   "",
			err:     true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.baseURL, tc.wsURL, "localhost:6060")
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.baseURL, config.BaseURL, "expected base URL to match")
			assert.Equal(t, tc.wsURL, config.WebsocketURL, "expected websocket URL to match")
			assert.Equal(t, defaultMaxReconnects, config.MaxReconnects, "expected default reconnect limit")
			assert.Equal(t, defaultReconnectBackoff, config.ReconnectBackoff, "expected default backoff")
			assert.Equal(t, defaultRequestTimeout, config.RequestTimeout, "expected default request timeout")
			assert.Equal(t, defaultPageSize, config.PageSize, "expected default page size")
		})
	}
}
