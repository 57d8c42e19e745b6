package console

import tea "github.com/charmbracelet/bubbletea"

type AppConstructor func() App

type AppMap map[string]AppConstructor

// App is a full-screen program the console can hand the terminal to.
// Update returning a nil App pops control back to the command prompt.
type App interface {
	Init(session *Session, args []string) tea.Cmd
	Update(msg tea.Msg) (App, tea.Cmd)
	View() string
	GetHelpText() string
}
