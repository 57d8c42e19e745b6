package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
binding: "127.0.0.1:8080"
mqdHome: "data/mqd"
logging:
  level: "debug"
rateLimiters:
  queue:
    limit: 200.0
    burst: 400
  system:
    limit: 50.0
    burst: 100
  events:
    limit: 200.0
    burst: 400
  default:
    limit: 100.0
    burst: 200
sessions:
  eventChannelSize: 1000
  webSocketReadBufferSize: 4096
  webSocketWriteBufferSize: 4096
  maxConnections: 100
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Binding)
	assert.Equal(t, "data/mqd", cfg.MqdHome)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 200.0, cfg.RateLimiters.Queue.Limit)
	assert.Equal(t, 100, cfg.Sessions.MaxConnections)
	assert.False(t, cfg.Console.Enabled)

	// Left unset, the pop/peek ceiling falls back to the package default.
	assert.Equal(t, DefaultMaxMessagesPerRequest, cfg.MaxMessagesPerRequest)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileUnreadable)
}

func TestLoadConfig_Garbage(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "binding: [unclosed"))
	assert.ErrorIs(t, err, ErrConfigFileUnmarshallable)
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  string
		wantErr error
	}{
		{
			name:    "missing binding",
			mutate:  "mqdHome: data/mqd",
			wantErr: ErrBindingMissing,
		},
		{
			name:    "missing home",
			mutate:  `binding: "127.0.0.1:8080"`,
			wantErr: ErrMqdHomeMissing,
		},
		{
			name: "half tls",
			mutate: `
binding: "127.0.0.1:8080"
mqdHome: "data/mqd"
tls:
  cert: "server.crt"
`,
			wantErr: ErrTLSMissing,
		},
		{
			name: "negative max messages",
			mutate: `
binding: "127.0.0.1:8080"
mqdHome: "data/mqd"
maxMessagesPerRequest: -1
`,
			wantErr: ErrMaxMessagesInvalid,
		},
		{
			name: "missing queue limiter",
			mutate: `
binding: "127.0.0.1:8080"
mqdHome: "data/mqd"
`,
			wantErr: ErrRateLimitersQueueLimitMissing,
		},
		{
			name: "missing sessions",
			mutate: `
binding: "127.0.0.1:8080"
mqdHome: "data/mqd"
rateLimiters:
  queue: {limit: 1, burst: 1}
  system: {limit: 1, burst: 1}
  events: {limit: 1, burst: 1}
  default: {limit: 1, burst: 1}
`,
			wantErr: ErrSessionsEventChannelSizeMissing,
		},
		{
			name: "console without binding",
			mutate: validConfig + `
console:
  enabled: true
`,
			wantErr: ErrConsoleBindingMissing,
		},
		{
			name: "console without host key path",
			mutate: validConfig + `
console:
  enabled: true
  binding: "127.0.0.1:2222"
`,
			wantErr: ErrConsoleHostKeyPathMissing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.mutate))
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLoadConfig_GeneratesConsoleHostKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "console_host_key")
	content := validConfig + `
console:
  enabled: true
  binding: "127.0.0.1:2222"
  hostKeyPath: "` + keyPath + `"
`

	cfg, err := LoadConfig(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, keyPath, cfg.Console.HostKeyPath)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second load must reuse the existing key rather than rewriting it.
	before, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	_, err = LoadConfig(writeConfig(t, content))
	require.NoError(t, err)
	after, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestGenerateConfig(t *testing.T) {
	cfg, err := GenerateConfig("mq.yaml")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Binding)
	assert.NotEmpty(t, cfg.MqdHome)
	assert.Equal(t, DefaultMaxMessagesPerRequest, cfg.MaxMessagesPerRequest)
	assert.NotZero(t, cfg.RateLimiters.Queue.Limit)
	assert.NotZero(t, cfg.RateLimiters.System.Limit)
	assert.NotZero(t, cfg.RateLimiters.Events.Limit)
	assert.NotZero(t, cfg.RateLimiters.Default.Limit)
	assert.NotZero(t, cfg.Sessions.EventChannelSize)
	assert.NotZero(t, cfg.Sessions.MaxConnections)
}
