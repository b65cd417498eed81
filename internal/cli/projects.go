package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/pocketforge/pocketforge/internal/domain"
)

func newProjectsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List and create projects",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := app.API.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			app.render.Projects(projects)
			return nil
		},
	}

	var description string
	var stack []string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.API.CreateProject(cmd.Context(), domain.CreateProjectRequest{
				Name:        strings.Join(args, " "),
				Description: description,
				TechStack:   stack,
			})
			if err != nil {
				return err
			}
			app.render.Success("Created " + p.Name + " (" + p.ID + ")")
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "project description")
	create.Flags().StringSliceVar(&stack, "stack", nil, "technologies, comma separated")

	cmd.AddCommand(list, create)
	return cmd
}

func newHistoryCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "history <project-id>",
		Short: "Print a project's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := app.API.GetConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if conv == nil || len(conv.Messages) == 0 {
				app.render.Info("no messages yet")
				return nil
			}
			for _, m := range conv.Messages {
				app.render.Message(m)
			}
			return nil
		},
	}
}
