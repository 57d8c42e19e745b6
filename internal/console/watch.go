package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/AltaraLabs/mq/client"
	"github.com/AltaraLabs/mq/models"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type watchEventMsg models.QueueEvent

type watchClosedMsg struct {
	err error
}

// WatchApp tails the live event feed for one queue in a full-screen
// viewport until the user backs out with esc.
type WatchApp struct {
	viewport   viewport.Model
	lines      []string
	eventStyle lipgloss.Style
	session    *Session
	height     int

	topic    string
	watchErr string // set when invalid args or the feed drops

	cli    *client.Client
	cancel context.CancelFunc
	events chan models.QueueEvent
	done   chan error
}

func WatchAppEntry(cli *client.Client) (string, AppConstructor) {
	return "watch", func() App { return newWatch(cli) }
}

func newWatch(cli *client.Client) App {
	// Start with minimal defaults - proper sizing will happen on WindowSizeMsg
	vp := viewport.New(80, 5)
	vp.SetContent("Waiting for events...")

	return &WatchApp{
		viewport:   vp,
		lines:      []string{},
		eventStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		cli:        cli,
	}
}

// Init subscribes to the queue's event feed. The subscription lives in its
// own goroutine and hands events over a buffered channel; the channel is
// closed when the subscription ends so the read command can tell the
// difference between "no event yet" and "feed gone".
func (w *WatchApp) Init(session *Session, args []string) tea.Cmd {
	w.session = session

	if len(args) != 1 {
		w.watchErr = "Usage: watch <queue>"
		return nil
	}
	w.topic = args[0]

	ctx, cancel := context.WithCancel(session.sessionRuntimeCtx)
	w.cancel = cancel
	w.events = make(chan models.QueueEvent, 64)
	w.done = make(chan error, 1)

	go func() {
		err := w.cli.SubscribeToEvents(ctx, w.topic, func(ev models.QueueEvent) {
			select {
			case w.events <- ev:
			default:
			}
		})
		w.done <- err
		close(w.events)
	}()

	return w.waitForEvent()
}

func (w *WatchApp) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-w.events
		if !ok {
			return watchClosedMsg{err: <-w.done}
		}
		return watchEventMsg(ev)
	}
}

func (w *WatchApp) Update(msg tea.Msg) (App, tea.Cmd) {
	var vpCmd tea.Cmd
	w.viewport, vpCmd = w.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w.height = msg.Height
		w.viewport.Width = msg.Width
		headerHeight := lipgloss.Height(w.headerView())
		w.viewport.Height = msg.Height - headerHeight
		if w.viewport.Height < 1 {
			w.viewport.Height = 1
		}
		if len(w.lines) > 0 {
			w.viewport.SetContent(lipgloss.NewStyle().Width(w.viewport.Width).Render(strings.Join(w.lines, "\n")))
		}
		w.viewport.GotoBottom()
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			w.close()
			return nil, nil
		case tea.KeyRunes:
			if msg.String() == "q" {
				w.close()
				return nil, nil
			}
		}
	case watchEventMsg:
		w.lines = append(w.lines, w.formatEvent(models.QueueEvent(msg)))
		w.viewport.SetContent(lipgloss.NewStyle().Width(w.viewport.Width).Render(strings.Join(w.lines, "\n")))
		w.viewport.GotoBottom()
		return w, tea.Batch(vpCmd, w.waitForEvent())
	case watchClosedMsg:
		if msg.err != nil && !strings.Contains(msg.err.Error(), context.Canceled.Error()) {
			w.watchErr = fmt.Sprintf("event feed closed: %s", msg.err.Error())
		} else {
			w.watchErr = "event feed closed"
		}
		return w, vpCmd
	}

	return w, vpCmd
}

func (w *WatchApp) View() string {
	if w.watchErr != "" && w.topic == "" {
		return w.watchErr + "\n\nPress esc to return.\n"
	}

	content := lipgloss.JoinVertical(
		lipgloss.Top,
		w.headerView(),
		w.viewport.View(),
	)
	if w.height > 0 {
		return lipgloss.NewStyle().Height(w.height).Render(content)
	}
	return content
}

func (w *WatchApp) headerView() string {
	header := fmt.Sprintf("Watching '%s' (esc to return)", w.topic)
	if w.watchErr != "" {
		header += " - " + w.watchErr
	}
	return header + "\n"
}

func (w *WatchApp) formatEvent(ev models.QueueEvent) string {
	line := fmt.Sprintf("%s %s queue=%s",
		ev.EmittedAt.Local().Format("15:04:05"),
		w.eventStyle.Render(ev.Event),
		ev.Queue,
	)
	if ev.ID != 0 {
		line += fmt.Sprintf(" id=%d", ev.ID)
	}
	if ev.Removed != 0 {
		line += fmt.Sprintf(" removed=%d", ev.Removed)
	}
	return line
}

func (w *WatchApp) close() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *WatchApp) GetHelpText() string {
	return "Stream live events for a queue"
}
