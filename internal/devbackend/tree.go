package devbackend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// buildTree nests flat file records into directories. Directories sort
// before files, each group by name.
func buildTree(files []domain.File) *domain.FileTree {
	root := &domain.FileNode{Type: "directory"}
	var total int64

	for _, f := range files {
		size := int64(len(f.Content))
		total += size

		parts := strings.Split(f.Path, "/")
		node := root
		for i, name := range parts {
			p := strings.Join(parts[:i+1], "/")
			if i == len(parts)-1 {
				node.Children = append(node.Children, domain.FileNode{Name: name, Path: p, Type: "file", Size: size})
				break
			}
			node = childDir(node, name, p)
		}
	}

	sortNodes(root.Children)
	nodes := root.Children
	if nodes == nil {
		nodes = []domain.FileNode{}
	}
	return &domain.FileTree{
		Files:       nodes,
		TotalSize:   total,
		TotalSizeMB: fmt.Sprintf("%.2f", float64(total)/(1024*1024)),
	}
}

func childDir(parent *domain.FileNode, name, path string) *domain.FileNode {
	for i := range parent.Children {
		if c := &parent.Children[i]; c.Type == "directory" && c.Name == name {
			return c
		}
	}
	parent.Children = append(parent.Children, domain.FileNode{Name: name, Path: path, Type: "directory"})
	return &parent.Children[len(parent.Children)-1]
}

func sortNodes(nodes []domain.FileNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == "directory"
		}
		return nodes[i].Name < nodes[j].Name
	})
	for i := range nodes {
		if nodes[i].Type == "directory" {
			nodes[i].Size = dirSize(nodes[i].Children)
			sortNodes(nodes[i].Children)
		}
	}
}

func dirSize(nodes []domain.FileNode) int64 {
	var n int64
	for _, c := range nodes {
		if c.Type == "file" {
			n += c.Size
		} else {
			n += dirSize(c.Children)
		}
	}
	return n
}
