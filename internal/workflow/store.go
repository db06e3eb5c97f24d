// Package workflow persists the named step-bundle templates behind the
// create_workflow/list_workflows/delete_workflow step types: a
// workflow is a named plan.Plan a user can define, list and delete.
// Nothing in this module runs a stored workflow's steps. It is grounded
// the same way the teacher's skill registry loads YAML-fronted
// definitions from a directory on disk.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/harunnryd/heike/internal/plan"
)

// Workflow is a named bundle of steps a create_workflow step records.
type Workflow struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Steps       []plan.Step `yaml:"steps"`
}

// Store loads and persists Workflows as one YAML file per name inside
// dir, mirroring the teacher's skill.Registry directory-of-files
// layout rather than a database table, since workflows are small,
// user-authored, and meant to be hand-editable.
type Store struct {
	mu  sync.RWMutex
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workflow dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(name string) string {
	safe := sanitizeName(name)
	return filepath.Join(s.dir, safe+".yaml")
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, name)
	if name == "" {
		name = "workflow"
	}
	return name
}

// Save writes wf to disk, overwriting any existing workflow of the
// same name.
func (s *Store) Save(wf Workflow) error {
	if strings.TrimSpace(wf.Name) == "" {
		return fmt.Errorf("workflow name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(wf)
	if err != nil {
		return err
	}
	return os.WriteFile(s.pathFor(wf.Name), data, 0o644)
}

// Get loads a workflow by name.
func (s *Store) Get(name string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.pathFor(name))
	if err != nil {
		return nil, fmt.Errorf("workflow %q not found: %w", name, err)
	}
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow %q: %w", name, err)
	}
	return &wf, nil
}

// List returns every stored workflow, sorted by name. Files that cannot
// be read or parsed are skipped.
func (s *Store) List() ([]Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Workflow
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var wf Workflow
		if err := yaml.Unmarshal(data, &wf); err != nil {
			continue
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes a stored workflow by name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(name)); err != nil {
		return fmt.Errorf("delete workflow %q: %w", name, err)
	}
	return nil
}
