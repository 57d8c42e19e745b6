package console

import (
	"context"
	"fmt"

	"github.com/AltaraLabs/mq/client"

	tea "github.com/charmbracelet/bubbletea"
)

func getCommandMap(ctx context.Context, cli *client.Client) map[string]CLICmdHandler {
	commands := map[string]CLICmdHandler{
		"exit": func(session *Session, command string, args []string) tea.Cmd {
			return tea.Quit
		},
		"help": func(session *Session, command string, args []string) tea.Cmd {
			helpText := session.BuildHelpText()
			return func() tea.Msg {
				return commandOutputMsg{output: helpText, isErr: false}
			}
		},
		"ping": func(session *Session, command string, args []string) tea.Cmd {
			return func() tea.Msg {
				resp, err := cli.Ping()
				if err != nil {
					return commandOutputMsg{output: err.Error(), isErr: true}
				}
				return commandOutputMsg{
					output: fmt.Sprintf("%s (server up %s)", resp.Status, resp.Uptime),
					isErr:  false,
				}
			}
		},
	}

	commands = mergeCommandMaps(commands, getQueueCommandMap(ctx, cli))
	return commands
}

func mergeCommandMaps(maps ...map[string]CLICmdHandler) map[string]CLICmdHandler {
	result := make(map[string]CLICmdHandler)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
