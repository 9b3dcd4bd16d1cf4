package store

import (
	"context"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"routeplanner/internal/model"
)

type taskFile struct {
	Tasks []model.Task `yaml:"tasks"`
}

// LoadTasks decodes a YAML fixture of the form `tasks: [...]`.
func LoadTasks(path string) ([]model.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task fixture: %w", err)
	}
	var f taskFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse task fixture %s: %w", path, err)
	}
	return f.Tasks, nil
}

// Seed loads the fixture at path into s and reports how many tasks it held.
func Seed(ctx context.Context, s Store, path string) (int, error) {
	tasks, err := LoadTasks(path)
	if err != nil {
		return 0, err
	}
	if err := s.PutTasks(ctx, tasks); err != nil {
		return 0, fmt.Errorf("store seeded tasks: %w", err)
	}
	return len(tasks), nil
}
