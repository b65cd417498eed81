package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pocketforge/pocketforge/internal/conversation"
)

const chatHelp = "commands: /deploy  /status  /files  /quit"

func newChatCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <project-id>",
		Short: "Chat with the assistant of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return app.chat(cmd.Context(), s)
		},
	}
}

func (a *App) chat(ctx context.Context, s *conversation.Session) error {
	r := a.render
	if n := len(s.View().Messages); n > 0 {
		r.Info(fmt.Sprintf("resuming conversation with %d messages", n))
	}
	r.Info(chatHelp)

	// Deployments are followed in the background so prompting goes on. The
	// chat ends only after the last one settles or ctx is cancelled.
	var following sync.WaitGroup
	defer func() {
		if s.View().Deploying {
			r.Info("waiting for the deployment to settle")
		}
		following.Wait()
	}()

	scanner := bufio.NewScanner(a.In)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		r.Prompt()
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "/quit", "/exit":
			return nil
		case "/deploy":
			f, err := startDeploy(s, r)
			if err != nil {
				r.Error(err.Error())
				continue
			}
			if f == nil {
				r.Info("deployment already in progress")
				continue
			}
			following.Add(1)
			go func() {
				defer following.Done()
				// Failures are already printed; the conversation goes on.
				_ = f.follow(ctx)
			}()
			continue
		case "/status":
			v := s.View()
			r.Deployment(v.LatestDeployment)
			if v.Deploying {
				r.Info("deployment in progress")
			}
			continue
		case "/files":
			tree, err := a.API.FileTree(ctx, s.ProjectID())
			if err != nil {
				r.Error(err.Error())
				continue
			}
			r.FileTree(tree)
			continue
		}
		if strings.HasPrefix(line, "/") {
			r.Info(chatHelp)
			continue
		}

		resp, err := s.Send(ctx, line)
		if conversation.IsRejection(err) {
			continue
		}
		var promptErr *conversation.PromptError
		if errors.As(err, &promptErr) {
			r.Error(promptErr.Error())
			r.Info("nothing was saved; send the message again to retry")
			continue
		}
		if err != nil {
			return err
		}
		r.Markdown(resp.Response)
		r.FileOperations(resp.FileOperations)
	}
}
