package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/AltaraLabs/mq/client"
	"github.com/AltaraLabs/mq/models"

	tea "github.com/charmbracelet/bubbletea"
)

func getQueueCommandMap(ctx context.Context, cli *client.Client) map[string]CLICmdHandler {
	commands := map[string]CLICmdHandler{
		"create": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) != 1 {
				return usageMsg("Usage: create <queue>")
			}
			queue := args[0]
			return func() tea.Msg {
				if err := cli.CreateQueue(queue); err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: "ok", isErr: false}
			}
		},
		"delete": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) != 1 {
				return usageMsg("Usage: delete <queue>")
			}
			queue := args[0]
			return func() tea.Msg {
				if err := cli.DeleteQueue(queue); err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: "ok", isErr: false}
			}
		},
		"push": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) < 2 {
				return usageMsg("Usage: push <queue> <message>")
			}
			queue := args[0]
			payload := strings.Join(args[1:], " ")
			return func() tea.Msg {
				// Anything that parses as JSON is sent verbatim, everything
				// else travels as a JSON string.
				var message any = payload
				if json.Valid([]byte(payload)) {
					message = json.RawMessage(payload)
				}
				id, err := cli.Push(queue, message)
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: fmt.Sprintf("id: %d", id), isErr: false}
			}
		},
		"pop": func(session *Session, command string, args []string) tea.Cmd {
			queue, n, err := queueAndCountArgs(args)
			if err != nil {
				return usageMsg("Usage: pop <queue> [n]")
			}
			return func() tea.Msg {
				messages, err := cli.Pop(queue, n)
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: formatMessages(messages), isErr: false}
			}
		},
		"peek": func(session *Session, command string, args []string) tea.Cmd {
			queue, n, err := queueAndCountArgs(args)
			if err != nil {
				return usageMsg("Usage: peek <queue> [n]")
			}
			return func() tea.Msg {
				messages, err := cli.Peek(queue, n)
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: formatMessages(messages), isErr: false}
			}
		},
		"count": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) != 1 {
				return usageMsg("Usage: count <queue>")
			}
			queue := args[0]
			return func() tea.Msg {
				count, err := cli.Count(queue)
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: strconv.FormatUint(count, 10), isErr: false}
			}
		},
		"exists": func(session *Session, command string, args []string) tea.Cmd {
			if len(args) != 1 {
				return usageMsg("Usage: exists <queue>")
			}
			queue := args[0]
			return func() tea.Msg {
				exists, err := cli.Exists(queue)
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{output: strconv.FormatBool(exists), isErr: false}
			}
		},
		"list": func(session *Session, command string, args []string) tea.Cmd {
			return func() tea.Msg {
				queues, err := cli.ListQueues()
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				if len(queues) == 0 {
					return commandOutputMsg{output: "(no queues)", isErr: false}
				}
				return commandOutputMsg{output: strings.Join(queues, "\n"), isErr: false}
			}
		},
	}
	return commands
}

func usageMsg(usage string) tea.Cmd {
	return func() tea.Msg {
		return commandOutputMsg{output: usage, isErr: true}
	}
}

// queueAndCountArgs parses "<queue> [n]" for pop and peek. The count
// defaults to 1. It is only checked for being an integer here; range
// validation belongs to the server.
func queueAndCountArgs(args []string) (string, int, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", 0, fmt.Errorf("expected <queue> [n], got %d arguments", len(args))
	}
	n := 1
	if len(args) == 2 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, err
		}
		n = parsed
	}
	return args[0], n, nil
}

func formatMessages(messages []models.QueueMessage) string {
	if len(messages) == 0 {
		return "(no messages)"
	}
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(fmt.Sprintf("%d: %s\n", msg.ID, string(msg.Message)))
	}
	return b.String()
}
