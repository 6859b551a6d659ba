package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus defines the possible states of a task.
type TaskStatus string

const (
	TaskStatusStarted   TaskStatus = "started"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// maxRetainedTasks bounds the task map; the oldest finished tasks are
// evicted once it fills up.
const maxRetainedTasks = 256

// Task represents a background operation, currently the overview write-back
// spawned after each graph build.
type Task struct {
	id   string
	kind string

	mu              sync.RWMutex
	status          TaskStatus
	progressMessage string
	errMessage      string
	updatedAt       time.Time
}

// TaskView is the wire form of a task snapshot.
type TaskView struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	Status          TaskStatus `json:"status"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Error           string     `json:"error,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// View snapshots the task for serialization.
func (t *Task) View() TaskView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskView{
		ID:              t.id,
		Kind:            t.kind,
		Status:          t.status,
		ProgressMessage: t.progressMessage,
		Error:           t.errMessage,
		UpdatedAt:       t.updatedAt,
	}
}

// SetStatus updates the status of the task.
func (t *Task) SetStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.updatedAt = time.Now().UTC()
}

// SetError marks the task as failed and records the error message.
func (t *Task) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskStatusFailed
	t.errMessage = err.Error()
	t.updatedAt = time.Now().UTC()
}

// SetProgress updates the progress message for the task.
func (t *Task) SetProgress(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progressMessage = message
	t.updatedAt = time.Now().UTC()
}

func (t *Task) finished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status == TaskStatusCompleted || t.status == TaskStatusFailed
}

// TaskManager tracks all running asynchronous tasks.
type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewTaskManager creates a new task manager.
func NewTaskManager() *TaskManager {
	return &TaskManager{
		tasks: make(map[string]*Task),
	}
}

// NewTask creates a task of the given kind, registers it, and returns it.
func (tm *TaskManager) NewTask(kind string) *Task {
	task := &Task{
		id:        uuid.New().String(),
		kind:      kind,
		status:    TaskStatusStarted,
		updatedAt: time.Now().UTC(),
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if len(tm.tasks) >= maxRetainedTasks {
		for i, id := range tm.order {
			if old, ok := tm.tasks[id]; ok && old.finished() {
				delete(tm.tasks, id)
				tm.order = append(tm.order[:i], tm.order[i+1:]...)
				break
			}
		}
	}

	tm.tasks[task.id] = task
	tm.order = append(tm.order, task.id)
	return task
}

// GetTask safely retrieves a task by its ID.
func (tm *TaskManager) GetTask(id string) (*Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, found := tm.tasks[id]
	return task, found
}
