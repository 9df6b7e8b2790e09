// Package source reads task definitions from YAML files and feeds tasks
// dropped into a watched directory to a running graph.
package source

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maxkimambo/dagrun/internal/backend"
	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/graph"
)

// File is the on-disk layout of a task file
type File struct {
	Tasks []Task `yaml:"tasks"`
}

// Task is one entry of a task file. Run, Dir and Env are shorthand for a
// shell command payload and cannot be combined with Payload.
type Task struct {
	ID        string            `yaml:"id"`
	DependsOn []string          `yaml:"depends_on"`
	Run       string            `yaml:"run"`
	Dir       string            `yaml:"dir"`
	Env       map[string]string `yaml:"env"`
	Payload   interface{}       `yaml:"payload"`
}

// Spec converts t to a graph task spec
func (t Task) Spec() (graph.TaskSpec, error) {
	id := strings.TrimSpace(t.ID)
	if id == "" {
		return graph.TaskSpec{}, engerrors.NewInvalidTaskError(t.ID, "task id must not be empty")
	}
	spec := graph.TaskSpec{ID: id, DependsOn: t.DependsOn, Payload: t.Payload}
	if t.Run != "" {
		if t.Payload != nil {
			return graph.TaskSpec{}, engerrors.NewInvalidTaskError(id, "run and payload are mutually exclusive")
		}
		spec.Payload = backend.Command{Run: t.Run, Dir: t.Dir, Env: t.Env}
	}
	return spec, nil
}

// Parse decodes a task file
func Parse(data []byte) ([]graph.TaskSpec, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid task file: %w", err)
	}

	specs := make([]graph.TaskSpec, 0, len(f.Tasks))
	for i, t := range f.Tasks {
		spec, err := t.Spec()
		if err != nil {
			return nil, fmt.Errorf("task #%d: %w", i+1, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// LoadFile reads and parses the task file at path
func LoadFile(path string) ([]graph.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	specs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// IsTaskFile reports whether name looks like a task file
func IsTaskFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
