package conveyor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AltaraLabs/mq/client"
)

type Config struct {
	HostPort   string // example: "mq-0.altara.dev:8080"
	UseTLS     bool
	SkipVerify bool
	Timeout    time.Duration
	Domain     string // If specified, will be used for client connections instead of the host in HostPort.
}

type Conveyor struct {
	client *client.Client
	logger *slog.Logger
}

func New(logger *slog.Logger, cfg *Config) (*Conveyor, error) {
	clientCfg := &client.Config{
		HostPort:     cfg.HostPort,
		ClientDomain: cfg.Domain,
		UseTLS:       cfg.UseTLS,
		SkipVerify:   cfg.SkipVerify,
		Timeout:      cfg.Timeout,
		Logger:       logger,
	}

	c, err := client.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mq client: %w", err)
	}

	return &Conveyor{
		client: c,
		logger: logger,
	}, nil
}

func (c *Conveyor) Ping(attempts int, cooldown time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		_, err := c.client.Ping()
		if err == nil {
			return nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(cooldown)
		}
	}
	return fmt.Errorf(
		"ping failed after %d attempts: %w",
		attempts,
		lastErr)
}

func GetQueue[T any](c *Conveyor, name string) Queue[T] {
	return NewQueue[T](name, c.client, c.logger)
}
