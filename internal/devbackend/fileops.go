package devbackend

import (
	"path"
	"strings"

	"github.com/pocketforge/pocketforge/internal/domain"
)

const fence = "```"

// ParseFileOperations extracts file operations from assistant output.
//
// A fenced block whose info string carries path=<file> writes that file; a
// line "delete: <file>" outside any block removes one. Unterminated blocks
// and paths escaping the project root are ignored. Every write is reported
// as a create; callers downgrade it to an update when the file exists.
func ParseFileOperations(text string) []domain.FileOperation {
	var ops []domain.FileOperation
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		if strings.HasPrefix(line, fence) {
			end := closingFence(lines, i+1)
			if end < 0 {
				break
			}
			if p, ok := fencePath(strings.TrimPrefix(line, fence)); ok {
				content := strings.Join(lines[i+1:end], "\n")
				if content != "" {
					content += "\n"
				}
				ops = append(ops, domain.FileOperation{Kind: domain.FileCreate, Path: p, Content: content})
			}
			i = end
			continue
		}

		if rest, ok := strings.CutPrefix(line, "delete:"); ok {
			if p, ok := cleanPath(strings.TrimSpace(rest)); ok {
				ops = append(ops, domain.FileOperation{Kind: domain.FileDelete, Path: p})
			}
		}
	}
	return ops
}

func closingFence(lines []string, from int) int {
	for j := from; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == fence {
			return j
		}
	}
	return -1
}

// fencePath finds path=<file> in a fence info string such as "go path=main.go".
func fencePath(info string) (string, bool) {
	for _, field := range strings.Fields(info) {
		if v, ok := strings.CutPrefix(field, "path="); ok {
			return cleanPath(strings.Trim(v, `"'`))
		}
	}
	return "", false
}

// cleanPath normalizes a project-relative path and rejects anything that
// would leave the project root.
func cleanPath(p string) (string, bool) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", false
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}
