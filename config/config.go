package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// DefaultMaxMessagesPerRequest bounds how many messages a single pop or peek
// may ask for when the config leaves maxMessagesPerRequest unset.
const DefaultMaxMessagesPerRequest = 100

type Logging struct {
	Level string `yaml:"level"`
}

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type SessionsConfig struct {
	EventChannelSize         int `yaml:"eventChannelSize"`
	WebSocketReadBufferSize  int `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int `yaml:"webSocketWriteBufferSize"`
	MaxConnections           int `yaml:"maxConnections"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Queue   RateLimiterConfig `yaml:"queue"`
	System  RateLimiterConfig `yaml:"system"`
	Events  RateLimiterConfig `yaml:"events"`
	Default RateLimiterConfig `yaml:"default"`
}

// ConsoleConfig drives the interactive queue console served over SSH. It is
// meant for operators on the box itself, so the default binding is loopback.
type ConsoleConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Binding     string `yaml:"binding,omitempty"`
	HostKeyPath string `yaml:"hostKeyPath,omitempty"`
}

type Server struct {
	Binding               string         `yaml:"binding"`
	ClientDomain          string         `yaml:"clientDomain,omitempty"` // domain the TLS cert is issued for, when it differs from the binding host
	TrustedProxies        []string       `yaml:"trustedProxies,omitempty"`
	MqdHome               string         `yaml:"mqdHome"`
	Logging               Logging        `yaml:"logging"`
	TLS                   TLS            `yaml:"tls"`
	ClientSkipVerify      bool           `yaml:"clientSkipVerify"`
	MaxMessagesPerRequest int            `yaml:"maxMessagesPerRequest"`
	RateLimiters          RateLimiters   `yaml:"rateLimiters"`
	Sessions              SessionsConfig `yaml:"sessions"`
	Console               ConsoleConfig  `yaml:"console"`
}

var (
	ErrConfigFileUnreadable             = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable         = errors.New("config file is unmarshallable")
	ErrBindingMissing                   = errors.New("binding is missing in config")
	ErrMqdHomeMissing                   = errors.New("mqdHome is missing in config and is required for queue data")
	ErrTLSMissing                       = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrMaxMessagesInvalid               = errors.New("maxMessagesPerRequest must not be negative")
	ErrRateLimitersQueueLimitMissing    = errors.New("rateLimiters.queue.limit is missing in config")
	ErrRateLimitersSystemLimitMissing   = errors.New("rateLimiters.system.limit is missing in config")
	ErrRateLimitersEventsLimitMissing   = errors.New("rateLimiters.events.limit is missing in config")
	ErrRateLimitersDefaultLimitMissing  = errors.New("rateLimiters.default.limit is missing in config")
	ErrSessionsEventChannelSizeMissing  = errors.New("sessions.eventChannelSize is missing or invalid in config")
	ErrSessionsReadBufferSizeMissing    = errors.New("sessions.webSocketReadBufferSize is missing or invalid in config")
	ErrSessionsWriteBufferSizeMissing   = errors.New("sessions.webSocketWriteBufferSize is missing or invalid in config")
	ErrSessionsMaxConnectionsMissing    = errors.New("sessions.maxConnections is missing or invalid in config")
	ErrConsoleBindingMissing            = errors.New("console.binding is missing in config while the console is enabled")
	ErrConsoleHostKeyPathMissing        = errors.New("console.hostKeyPath is missing in config while the console is enabled")
	ErrHostKeyGeneration                = errors.New("failed to generate SSH host key")
)

func generateHostKey(keyPath string) error {
	dir := filepath.Dir(keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}

	privateKeyPEM, err := ssh.MarshalPrivateKey(privateKey, "")
	if err != nil {
		return err
	}

	return os.WriteFile(keyPath, pem.EncodeToMemory(privateKeyPEM), 0600)
}

func LoadConfig(configFile string) (*Server, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Server
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	// Basic validation
	if cfg.Binding == "" {
		return nil, ErrBindingMissing
	}
	if cfg.MqdHome == "" {
		return nil, ErrMqdHomeMissing
	}

	if cfg.TLS.Cert != "" && cfg.TLS.Key == "" ||
		cfg.TLS.Cert == "" && cfg.TLS.Key != "" {
		return nil, ErrTLSMissing
	}

	if cfg.MaxMessagesPerRequest < 0 {
		return nil, ErrMaxMessagesInvalid
	}
	if cfg.MaxMessagesPerRequest == 0 {
		cfg.MaxMessagesPerRequest = DefaultMaxMessagesPerRequest
	}

	if cfg.RateLimiters.Queue.Limit == 0 {
		return nil, ErrRateLimitersQueueLimitMissing
	}
	if cfg.RateLimiters.System.Limit == 0 {
		return nil, ErrRateLimitersSystemLimitMissing
	}
	if cfg.RateLimiters.Events.Limit == 0 {
		return nil, ErrRateLimitersEventsLimitMissing
	}
	if cfg.RateLimiters.Default.Limit == 0 {
		return nil, ErrRateLimitersDefaultLimitMissing
	}

	if cfg.Sessions.EventChannelSize <= 0 {
		return nil, ErrSessionsEventChannelSizeMissing
	}
	if cfg.Sessions.WebSocketReadBufferSize <= 0 {
		return nil, ErrSessionsReadBufferSizeMissing
	}
	if cfg.Sessions.WebSocketWriteBufferSize <= 0 {
		return nil, ErrSessionsWriteBufferSizeMissing
	}
	if cfg.Sessions.MaxConnections <= 0 {
		return nil, ErrSessionsMaxConnectionsMissing
	}

	if cfg.Console.Enabled {
		if cfg.Console.Binding == "" {
			return nil, ErrConsoleBindingMissing
		}
		if cfg.Console.HostKeyPath == "" {
			return nil, ErrConsoleHostKeyPathMissing
		}
		if _, err := os.Stat(cfg.Console.HostKeyPath); os.IsNotExist(err) {
			if err := generateHostKey(cfg.Console.HostKeyPath); err != nil {
				return nil, errors.Join(ErrHostKeyGeneration, err)
			}
		}
	}

	return &cfg, nil
}

func GenerateConfig(configFile string) (*Server, error) {
	cfg := Server{
		Binding:               "127.0.0.1:8080",
		MqdHome:               "data/mqd", // Relative path for easier default setup
		ClientSkipVerify:      false,
		MaxMessagesPerRequest: DefaultMaxMessagesPerRequest,
		Logging: Logging{
			Level: "info",
		},
		RateLimiters: RateLimiters{
			Queue:   RateLimiterConfig{Limit: 200.0, Burst: 400},
			System:  RateLimiterConfig{Limit: 50.0, Burst: 100},
			Events:  RateLimiterConfig{Limit: 200.0, Burst: 400},
			Default: RateLimiterConfig{Limit: 100.0, Burst: 200},
		},
		Sessions: SessionsConfig{
			EventChannelSize:         1000,
			WebSocketReadBufferSize:  4096,
			WebSocketWriteBufferSize: 4096,
			MaxConnections:           100,
		},
		Console: ConsoleConfig{
			Enabled:     false,
			Binding:     "127.0.0.1:2222",
			HostKeyPath: "data/mqd/keys/console_host_key",
		},
	}

	// The configFile argument is not used by this function to generate the
	// content, but its presence matches the function signature. The actual
	// writing to a file based on a command-line flag is handled in the runtime.
	return &cfg, nil
}
