package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"storesync/internal/models"
)

// ExecutorFn performs the work for one task type. It receives the task
// row and its decoded meta data and reports failure through the returned
// error; the drainer turns that error into the task's error record.
type ExecutorFn func(ctx context.Context, task *models.Task, meta models.MetaData) error

// ExecutorError lets executors name the failure class recorded on the
// task. Plain errors are recorded under a generic class.
type ExecutorError struct {
	Class string
	Err   error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// Registry maps task types to executors. Populated at startup by the
// importers/exporters; resolution failure is a first-class condition,
// not a dynamic-dispatch crash.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ExecutorFn
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]ExecutorFn)}
}

// Register binds an executor to a task type. Re-registering a type is a
// wiring mistake and fails loudly.
func (r *Registry) Register(taskType string, fn ExecutorFn) error {
	if taskType == "" {
		return fmt.Errorf("executor task type is required")
	}
	if fn == nil {
		return fmt.Errorf("executor for %q is nil", taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[taskType]; exists {
		return fmt.Errorf("executor for %q already registered", taskType)
	}
	r.executors[taskType] = fn
	return nil
}

// Resolve looks up the executor for a task type.
func (r *Registry) Resolve(taskType string) (ExecutorFn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.executors[taskType]
	return fn, ok
}

// Types returns the registered task types, sorted for stable logs.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
