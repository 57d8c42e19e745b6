package console

import (
	"context"
	"log/slog"

	"github.com/AltaraLabs/mq/client"
	"github.com/AltaraLabs/mq/config"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/pkg/errors"
)

/*
	An interactive operator console served over SSH. There is no account
	system behind it; any connection is accepted, which is why the default
	binding is loopback. Operators who want it reachable from elsewhere are
	expected to front it themselves.
*/

type Server struct {
	appCtx context.Context
	logger *slog.Logger
	cfg    *config.Server
	cli    *client.Client
	srv    *ssh.Server
}

func NewServer(ctx context.Context, logger *slog.Logger, cfg *config.Server, cli *client.Client) *Server {
	return &Server{
		appCtx: ctx,
		logger: logger.WithGroup("console"),
		cfg:    cfg,
		cli:    cli,
	}
}

func (c *Server) Start() error {

	srv, err := wish.NewServer(
		wish.WithAddress(c.cfg.Console.Binding),
		wish.WithHostKeyPath(c.cfg.Console.HostKeyPath),

		ssh.AllocatePty(),

		wish.WithMiddleware(
			bubbletea.Middleware(func(sess ssh.Session) (tea.Model, []tea.ProgramOption) {
				c.logger.Info("New session", "remote_addr", sess.RemoteAddr())
				model, options := c.newSession(sess)
				return model, options
			}),
			activeterm.Middleware(),
			logging.Middleware(),
		),
	)
	if err != nil {
		c.logger.Error("Could not start server", "error", err)
		return err
	}

	c.srv = srv

	go func() {
		c.logger.Info("Starting SSH console", "address", c.cfg.Console.Binding)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			c.logger.Error("Could not start server", "error", err)
		}
	}()

	return nil
}

func (c *Server) Stop(ctx context.Context) error {
	if c.srv == nil {
		return nil
	}
	return c.srv.Shutdown(ctx)
}

func (c *Server) newSession(sess ssh.Session) (tea.Model, []tea.ProgramOption) {
	user := sess.User()
	if user == "" {
		user = "mq"
	}

	model := New(c.appCtx, ReplConfig{
		SessionConfig: SessionConfig{
			Logger:               c.logger.WithGroup("ssh").WithGroup(user),
			ActiveCursorSymbol:   "█",
			InactiveCursorSymbol: " ",
			Prompt:               user + " > ",
		},
	}, c.cli)

	return model, []tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	}
}
