package client

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultAckTimeout     = 10 * time.Second
)

// TokenProvider supplies the current access token for the handshake.
// Token issuance and refresh live with the app's auth layer.
type TokenProvider func(ctx context.Context) (string, error)

// Config controls how the SDK connects.
type Config struct {
	URL   string
	Token TokenProvider

	// ConnectTimeout bounds both a dial attempt and a caller waiting on
	// another caller's in-flight attempt.
	ConnectTimeout time.Duration
	// AckTimeout bounds waiting for the server's ack to one operation.
	AckTimeout time.Duration

	Dialer Dialer
	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = wsDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}
