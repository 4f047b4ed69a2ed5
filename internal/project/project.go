// Package project detects workspace metadata for prompt assembly.
package project

import (
	"os"
	"path/filepath"
	"strings"
)

// Info describes the workspace a session operates in.
type Info struct {
	Name     string
	Root     string
	Language string
	VCS      string
}

type marker struct {
	file     string
	language string
}

var markers = []marker{
	{"go.mod", "Go"},
	{"package.json", "JavaScript/TypeScript"},
	{"pyproject.toml", "Python"},
	{"Cargo.toml", "Rust"},
	{"pom.xml", "Java"},
	{"Gemfile", "Ruby"},
}

// Detect walks from dir upward looking for project markers. Returns nil when
// nothing identifiable is found.
func Detect(dir string) *Info {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}

	cur := abs
	for {
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(cur, m.file)); err == nil {
				info := &Info{
					Name:     filepath.Base(cur),
					Root:     cur,
					Language: m.language,
				}
				if _, err := os.Stat(filepath.Join(cur, ".git")); err == nil {
					info.VCS = "git"
				}
				return info
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil
		}
		cur = parent
	}
}
