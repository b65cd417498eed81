// Package cli implements the forge terminal client: chat with a project's
// assistant, trigger deployments and browse projects.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketforge/pocketforge/internal/backend"
	"github.com/pocketforge/pocketforge/internal/config"
	"github.com/pocketforge/pocketforge/internal/conversation"
	"github.com/pocketforge/pocketforge/internal/domain"
)

// API is the part of the remote backend the client uses.
type API interface {
	conversation.Backend
	ListProjects(ctx context.Context) ([]domain.Project, error)
	CreateProject(ctx context.Context, req domain.CreateProjectRequest) (*domain.Project, error)
	FileTree(ctx context.Context, projectID string) (*domain.FileTree, error)
}

// App carries the state shared by all commands.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// API is built from the flags when nil.
	API API

	plain          bool
	logLevel       string
	backendURL     string
	token          string
	requestTimeout time.Duration
	promptTimeout  time.Duration
	pollInterval   time.Duration

	render *Renderer
	logger *slog.Logger
}

// NewRootCommand builds the forge command tree.
func NewRootCommand(app *App) *cobra.Command {
	defaults := config.LoadClientDefaults()

	root := &cobra.Command{
		Use:           "forge",
		Short:         "Build and deploy projects by chatting with an assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init()
		},
	}
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&app.backendURL, "backend-url", defaults.BackendURL, "backend API base URL (BACKEND_URL)")
	flags.StringVar(&app.token, "token", defaults.BackendToken, "backend bearer token (BACKEND_TOKEN)")
	flags.DurationVar(&app.requestTimeout, "request-timeout", defaults.RequestTimeout, "timeout for ordinary backend calls")
	flags.DurationVar(&app.promptTimeout, "prompt-timeout", defaults.PromptTimeout, "timeout for assistant replies")
	flags.DurationVar(&app.pollInterval, "poll-interval", defaults.PollInterval, "deployment status poll interval")
	flags.StringVar(&app.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.BoolVar(&app.plain, "plain", false, "disable terminal styling of replies")

	root.AddCommand(
		newChatCommand(app),
		newDeployCommand(app),
		newProjectsCommand(app),
		newHistoryCommand(app),
	)
	return root
}

func (a *App) init() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.logLevel, err)
	}
	a.logger = slog.New(slog.NewTextHandler(a.Err, &slog.HandlerOptions{Level: level}))

	render, err := NewRenderer(a.Out, a.plain)
	if err != nil {
		return err
	}
	a.render = render

	if a.API == nil {
		client, err := backend.NewClient(backend.ClientConfig{
			BaseURL:        a.backendURL,
			Token:          a.token,
			RequestTimeout: a.requestTimeout,
			PromptTimeout:  a.promptTimeout,
			Logger:         a.logger,
		})
		if err != nil {
			return err
		}
		a.API = client
	}
	return nil
}

func (a *App) openSession(ctx context.Context, projectID string) (*conversation.Session, error) {
	return conversation.Open(ctx, projectID, a.API,
		conversation.WithPromptTimeout(a.promptTimeout),
		conversation.WithPollInterval(a.pollInterval),
		conversation.WithLogger(a.logger),
	)
}
