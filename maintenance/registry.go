// Package maintenance implements the pluggable multi-task driver (§4.8,
// §4.9): a fixed-order task registry, selection/ordering rules, and
// sequential execution with short-circuit on the first failure.
package maintenance

import (
	"context"
	"fmt"
	"strings"
)

// Task is one registered maintenance task record (§3 "Task record"). Auto may
// be nil, meaning the task has no auto-condition at all and is therefore
// never run under --auto (e.g. fetch, §4.8); a non-nil Auto is consulted
// under --auto and gates the task on its return value.
type Task struct {
	Name    string
	Enabled bool
	Auto    func(ctx context.Context) (bool, error)
	Execute func(ctx context.Context) error
}

// Registry is the fixed, ordered list of tasks built at startup, indexed by
// case-insensitive name.
type Registry struct {
	tasks  []*Task
	byName map[string]*Task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Task)}
}

// Register appends t to the registry in call order. Registering the same
// name twice is a programming error, not a runtime condition this layer
// needs to recover from.
func (r *Registry) Register(t *Task) {
	key := strings.ToLower(t.Name)
	if _, exists := r.byName[key]; exists {
		panic(fmt.Sprintf("maintenance: task %q already registered", t.Name))
	}
	r.tasks = append(r.tasks, t)
	r.byName[key] = t
}

// Lookup finds a task by case-insensitive name.
func (r *Registry) Lookup(name string) (*Task, bool) {
	t, ok := r.byName[strings.ToLower(name)]
	return t, ok
}

// Enabled returns every registered task whose Enabled bit is set, in
// registration order.
func (r *Registry) Enabled() []*Task {
	var out []*Task
	for _, t := range r.tasks {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}
