package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle of a backgrounded unit_api task (spec.md
// §4.J "mutating endpoints use status 202 and a task_id").
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// Task is one tracked background operation, grounded on the teacher's
// SubprocessBackend pattern of a mutex-guarded state map rather than a
// channel-per-caller (internal/infra/engine/subprocess.go).
type Task struct {
	ID          string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	ResultURL   string     `json:"result_url_path,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TaskRegistry tracks backgrounded unit_api operations by id.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*Task)}
}

// Start runs fn in a goroutine and returns the new task's id
// immediately; fn's error (if any) is recorded on completion.
func (tr *TaskRegistry) Start(fn func() error) string {
	id := uuid.NewString()
	t := &Task{ID: id, Status: TaskPending, CreatedAt: time.Now(), ResultURL: "/unit_api/task_results/" + id}
	tr.mu.Lock()
	tr.tasks[id] = t
	tr.mu.Unlock()

	go func() {
		err := fn()
		tr.mu.Lock()
		defer tr.mu.Unlock()
		if err != nil {
			t.Status = TaskFailed
			t.Error = err.Error()
			return
		}
		t.Status = TaskComplete
	}()

	return id
}

// Get returns the task by id, or ok=false if unknown.
func (tr *TaskRegistry) Get(id string) (Task, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	t, ok := tr.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}
