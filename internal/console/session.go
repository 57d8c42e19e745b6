package console

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Session struct {
	sessionID string

	history       []string
	historyIndex  int
	currentBuffer string
	inHistoryMode bool

	config         SessionConfig
	startTimestamp time.Time

	sessionRuntimeCtx context.Context
}

type SessionConfig struct {
	Logger               *slog.Logger
	ActiveCursorSymbol   string
	InactiveCursorSymbol string
	Prompt               string
}

func NewSession(ctx context.Context, config SessionConfig) *Session {

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Session{
		sessionID:         uuid.New().String(),
		history:           []string{},
		historyIndex:      -1,
		inHistoryMode:     false,
		config:            config,
		startTimestamp:    time.Now(),
		sessionRuntimeCtx: ctx,
	}
}

func (s *Session) AddToHistory(cmd string) {
	if cmd != "" {
		s.history = append(s.history, cmd)
		s.historyIndex = len(s.history)
		s.inHistoryMode = false
	}
}

func (s *Session) StartHistoryNavigation(currentBuffer string) {
	if !s.inHistoryMode {
		s.currentBuffer = currentBuffer
		s.inHistoryMode = true
		s.historyIndex = len(s.history)
	}
}

func (s *Session) IsInHistoryMode() bool {
	return s.inHistoryMode
}

func (s *Session) NavigateHistory(up bool) string {
	if len(s.history) == 0 {
		return ""
	}

	if up {
		if s.historyIndex > 0 {
			s.historyIndex--
			return s.history[s.historyIndex]
		}
	} else {
		if s.historyIndex < len(s.history)-1 {
			s.historyIndex++
			return s.history[s.historyIndex]
		} else {
			s.historyIndex = len(s.history)
			s.inHistoryMode = false
			return s.currentBuffer
		}
	}

	if s.historyIndex >= 0 && s.historyIndex < len(s.history) {
		return s.history[s.historyIndex]
	}

	return s.currentBuffer
}

func (s *Session) GetHistory() []string {
	return s.history
}

func (s *Session) GetActiveCursorSymbol() string {
	return s.config.ActiveCursorSymbol
}

func (s *Session) GetInactiveCursorSymbol() string {
	return s.config.InactiveCursorSymbol
}

func (s *Session) Uptime() time.Duration {
	return time.Since(s.startTimestamp)
}

func (s *Session) GetPrompt() string {
	return s.config.Prompt
}

func (s *Session) BuildHelpText() string {
	var helpText string

	helpText += "Available Commands:\n\n"

	helpText += "Queue Commands:\n"
	helpText += "  create <queue>          - Create a queue\n"
	helpText += "  delete <queue>          - Delete a queue and everything in it\n"
	helpText += "  push <queue> <message>  - Push a message onto a queue\n"
	helpText += "  pop <queue> [n]         - Remove and show the n oldest messages (default 1)\n"
	helpText += "  peek <queue> [n]        - Show the n oldest messages without removing them\n"
	helpText += "  count <queue>           - Count the messages waiting in a queue\n"
	helpText += "  exists <queue>          - Check whether a queue exists\n"
	helpText += "  list                    - List all queues\n"
	helpText += "  watch <queue>           - Stream live events for a queue\n\n"

	helpText += "Built-in Commands:\n"
	helpText += "  ping - Check the server is up\n"
	helpText += "  help - Display this help message\n"
	helpText += "  exit - Exit the session\n"

	return helpText
}
