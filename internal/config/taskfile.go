package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avandras/agentcore/pkg/models"
)

// rawTask is the on-disk shape of one task. Durations are strings
// ("5m", "90s") since yaml.v3 has no native time.Duration decoding.
type rawTask struct {
	ID            string   `yaml:"id"`
	Role          string   `yaml:"role"`
	Prompt        string   `yaml:"prompt"`
	Tools         []string `yaml:"tools"`
	MaxIterations int      `yaml:"max_iterations"`
	DependsOn     []string `yaml:"depends_on"`
	Priority      int      `yaml:"priority"`
	Timeout       string   `yaml:"timeout"`
	MaxBudget     float64  `yaml:"max_budget"`
	Preset        string   `yaml:"preset"`
}

// taskFile is the on-disk shape of a task list submitted for execution.
type taskFile struct {
	Tasks []rawTask `yaml:"tasks"`
}

// LoadTaskFile reads and validates a YAML task list. Structural problems
// (no tasks, empty or duplicate IDs, unknown roles) are reported here so
// the scheduler never sees broken input.
func LoadTaskFile(path string) ([]models.AgentTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing task file %s: %w", path, err)
	}

	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("task file %s contains no tasks", path)
	}

	tasks := make([]models.AgentTask, 0, len(file.Tasks))
	seen := make(map[string]bool, len(file.Tasks))

	for i, raw := range file.Tasks {
		if raw.ID == "" {
			return nil, fmt.Errorf("task %d has no id", i)
		}
		if seen[raw.ID] {
			return nil, fmt.Errorf("duplicate task id %q", raw.ID)
		}
		seen[raw.ID] = true

		if raw.Prompt == "" {
			return nil, fmt.Errorf("task %q has no prompt", raw.ID)
		}

		role := models.Role(raw.Role)
		if role == "" {
			role = models.RoleGeneral
		}
		if !role.Valid() {
			return nil, fmt.Errorf("task %q has unknown role %q", raw.ID, raw.Role)
		}

		var timeout time.Duration
		if raw.Timeout != "" {
			timeout, err = time.ParseDuration(raw.Timeout)
			if err != nil {
				return nil, fmt.Errorf("task %q has invalid timeout %q: %w", raw.ID, raw.Timeout, err)
			}
		}

		tasks = append(tasks, models.AgentTask{
			ID:            raw.ID,
			Role:          role,
			Prompt:        raw.Prompt,
			Tools:         raw.Tools,
			MaxIterations: raw.MaxIterations,
			DependsOn:     raw.DependsOn,
			Priority:      raw.Priority,
			Timeout:       timeout,
			MaxBudget:     raw.MaxBudget,
			Preset:        raw.Preset,
		})
	}

	return tasks, nil
}
