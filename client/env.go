package client

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	DefaultServerVar       = "MQ_SERVER"
	DefaultClientDomainVar = "MQ_CLIENT_DOMAIN"
	DefaultSkipVerifyVar   = "MQ_SKIP_VERIFY"
)

// CreateClientFromEnv builds a client from the MQ_* environment variables.
// MQ_SERVER accepts "host:port" or an http(s) URL; an https URL turns TLS on.
func CreateClientFromEnv(logger *slog.Logger) (*Client, error) {
	addr := os.Getenv(DefaultServerVar)
	if addr == "" {
		return nil, fmt.Errorf("%s is not set", DefaultServerVar)
	}

	cfg := &Config{
		ClientDomain: os.Getenv(DefaultClientDomainVar),
		SkipVerify:   os.Getenv(DefaultSkipVerifyVar) == "true",
		Logger:       logger,
	}

	switch {
	case strings.HasPrefix(addr, "https://"):
		cfg.HostPort = strings.TrimPrefix(addr, "https://")
		cfg.UseTLS = true
	case strings.HasPrefix(addr, "http://"):
		cfg.HostPort = strings.TrimPrefix(addr, "http://")
	default:
		cfg.HostPort = addr
	}

	return NewClient(cfg)
}
