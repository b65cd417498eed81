package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/pocketforge/pocketforge/internal/conversation"
)

var errSessionClosed = errors.New("session closed")

func newDeployCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <project-id>",
		Short: "Deploy a project and follow its status until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return followDeploy(cmd.Context(), s, app.render)
		},
	}
}

// followDeploy triggers a deployment and prints each status change of it.
// A rejected trigger prints nothing.
func followDeploy(ctx context.Context, s *conversation.Session, r *Renderer) error {
	f, err := startDeploy(s, r)
	if err != nil || f == nil {
		return err
	}
	return f.follow(ctx)
}

// deployFollower prints the status changes of a deployment it triggered.
type deployFollower struct {
	s   *conversation.Session
	sub *conversation.Subscription
	r   *Renderer

	// Statuses of the deployment known before the trigger are not news.
	seenID     string
	seenStatus string
}

// startDeploy subscribes and triggers a deployment. It returns nil without an
// error when the trigger is rejected.
func startDeploy(s *conversation.Session, r *Renderer) (*deployFollower, error) {
	f := &deployFollower{s: s, sub: s.Subscribe(), r: r}
	if d := s.View().LatestDeployment; d != nil {
		f.seenID = d.ID
	}

	if err := s.DeployAsync(); err != nil {
		f.sub.Close()
		if conversation.IsRejection(err) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

// follow prints status changes until the deployment settles.
func (f *deployFollower) follow(ctx context.Context) error {
	defer f.sub.Close()

	for {
		select {
		case _, ok := <-f.sub.C:
			if !ok {
				return errSessionClosed
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		v := f.s.View()
		if d := v.LatestDeployment; d != nil && d.ID != f.seenID && string(d.Status) != f.seenStatus {
			f.seenStatus = string(d.Status)
			f.r.Deployment(d)
		}
		if v.Deploying {
			continue
		}
		if v.DeployError != "" {
			f.r.Error(v.DeployError)
			return errors.New(v.DeployError)
		}
		f.r.Success("Live at " + v.LastDeployURL)
		return nil
	}
}
