// Package script manages generated Python scripts on disk: writing them with
// timestamped names, reading them back, and listing the history.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Script is one immutable generated script. The source is written to disk
// exactly once; a refinement produces a new Script, never a mutation.
type Script struct {
	Source    string
	Path      string
	CreatedAt time.Time
}

// Name returns the script's file name without its directory.
func (s *Script) Name() string {
	return filepath.Base(s.Path)
}

// Entry describes a previously generated script for history listings.
type Entry struct {
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// Workspace is the directory generated scripts are written to.
type Workspace struct {
	dir string
}

// NewWorkspace creates the scripts directory if needed.
func NewWorkspace(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scripts directory: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Write stores source as a new timestamped script file.
func (w *Workspace) Write(source string) (*Script, error) {
	now := time.Now()
	name := fmt.Sprintf("script_%s.py", now.Format("20060102_150405"))
	path := filepath.Join(w.dir, name)

	// Same-second collisions get a numeric suffix instead of clobbering
	// the earlier script.
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(w.dir, fmt.Sprintf("script_%s_%d.py", now.Format("20060102_150405"), i))
	}

	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("writing script %s: %w", path, err)
	}
	return &Script{Source: source, Path: path, CreatedAt: now}, nil
}

// Read returns the content of a script by file name. The name must not
// contain path separators.
func (w *Workspace) Read(name string) (string, error) {
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid script name: %s", name)
	}
	data, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		return "", fmt.Errorf("reading script %s: %w", name, err)
	}
	return string(data), nil
}

// List returns the generated scripts, newest first.
func (w *Workspace) List() ([]Entry, error) {
	dirents, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}

	var entries []Entry
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".py") {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(name, "script_"), ".py")
		entries = append(entries, Entry{
			Filename:  name,
			Path:      filepath.Join(w.dir, name),
			Timestamp: ts,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Filename > entries[j].Filename
	})
	return entries, nil
}
