package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/pocketforge/pocketforge/internal/domain"
)

var (
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// Renderer writes styled terminal output.
type Renderer struct {
	out io.Writer
	md  *glamour.TermRenderer
}

// NewRenderer creates a renderer. Plain output skips terminal styling of
// markdown, for pipes and tests.
func NewRenderer(out io.Writer, plain bool) (*Renderer, error) {
	style := glamour.WithAutoStyle()
	if plain {
		style = glamour.WithStandardStyle("notty")
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(100))
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return &Renderer{out: &lockedWriter{w: out}, md: md}, nil
}

// lockedWriter keeps the lines of a background deploy follower whole when
// they race with the chat loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Prompt prints the chat input marker.
func (r *Renderer) Prompt() {
	fmt.Fprint(r.out, "› ")
}

// Markdown renders an assistant reply.
func (r *Renderer) Markdown(text string) {
	rendered, err := r.md.Render(text)
	if err != nil {
		rendered = text + "\n"
	}
	fmt.Fprint(r.out, rendered)
}

// Message prints one transcript entry.
func (r *Renderer) Message(m domain.Message) {
	if m.Role == domain.RoleUser {
		fmt.Fprintln(r.out, userStyle.Render("you ›")+" "+m.Content)
		return
	}
	r.Markdown(m.Content)
}

// FileOperations lists the files a reply touched.
func (r *Renderer) FileOperations(ops []domain.FileOperation) {
	for _, op := range ops {
		mark := "~"
		switch op.Kind {
		case domain.FileCreate:
			mark = "+"
		case domain.FileDelete:
			mark = "-"
		}
		fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("  %s %s", mark, op.Path)))
	}
}

// Deployment prints a status line.
func (r *Renderer) Deployment(d *domain.Deployment) {
	if d == nil {
		r.Info("no deployments yet")
		return
	}
	line := fmt.Sprintf("● %s", d.Status)
	if d.URL != "" {
		line += "  " + d.URL
	}
	switch d.Status {
	case domain.DeploymentSuccess:
		line = successStyle.Render(line)
	case domain.DeploymentFailed:
		line = errorStyle.Render(line)
	default:
		line = pendingStyle.Render(line)
	}
	fmt.Fprintln(r.out, line)
}

// Projects prints a project table.
func (r *Renderer) Projects(projects []domain.Project) {
	if len(projects) == 0 {
		r.Info("no projects yet")
		return
	}
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, []string{p.ID, p.Name, string(p.Status), p.DeployURL})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("ID", "NAME", "STATUS", "URL").
		Rows(rows...)
	fmt.Fprintln(r.out, t.Render())
}

// FileTree prints a project's files indented by depth.
func (r *Renderer) FileTree(tree *domain.FileTree) {
	if tree == nil || len(tree.Files) == 0 {
		r.Info("no files yet")
		return
	}
	var walk func(nodes []domain.FileNode, depth int)
	walk = func(nodes []domain.FileNode, depth int) {
		for _, n := range nodes {
			name := n.Name
			if n.Type == "directory" {
				name += "/"
			}
			fmt.Fprintf(r.out, "%s%s\n", strings.Repeat("  ", depth), name)
			walk(n.Children, depth+1)
		}
	}
	walk(tree.Files, 0)
	r.Info(fmt.Sprintf("%s MB total", tree.TotalSizeMB))
}

// Success prints a highlighted line.
func (r *Renderer) Success(msg string) {
	fmt.Fprintln(r.out, successStyle.Render(msg))
}

// Error prints an error line.
func (r *Renderer) Error(msg string) {
	fmt.Fprintln(r.out, errorStyle.Render("✗ "+msg))
}

// Info prints a dimmed line.
func (r *Renderer) Info(msg string) {
	fmt.Fprintln(r.out, dimStyle.Render(msg))
}
