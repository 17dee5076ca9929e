// Package tasktable is the typed handle onto the per-step task table:
// the list of (local_id, global_id, pid) tuples the launcher registered
// when it moved the step to RUNNING. Like pkg/container, the real table
// is owned by an external collaborator (spec.md §1); this package
// defines the read/write surface the dispatcher needs and an in-memory
// reference implementation for tests.
package tasktable

import "sync"

// Task is one task row.
type Task struct {
	LocalID    int32
	GlobalID   uint32
	Pid        int32
	ExeName    string
	Exited     bool
	ExitStatus int32
	Aborted    bool
	KilledByCmd bool
}

// Table is the collaborator interface.
type Table interface {
	All() []Task
	MarkKilledByCmd(predicate func(Task) bool)
	Get(localID int32) (Task, bool)
}

// Memory is an in-process reference Table.
type Memory struct {
	mu    sync.Mutex
	tasks []Task
}

// NewMemory creates a reference Table seeded with tasks.
func NewMemory(tasks ...Task) *Memory {
	return &Memory{tasks: append([]Task(nil), tasks...)}
}

func (m *Memory) All() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Task(nil), m.tasks...)
}

// MarkKilledByCmd sets KilledByCmd on every task matching predicate that
// isn't already aborted or exited (spec.md §4.6 Signal container: "for
// any task not already aborted or exited, set its killed_by_cmd flag").
func (m *Memory) MarkKilledByCmd(predicate func(Task) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		t := &m.tasks[i]
		if t.Aborted || t.Exited {
			continue
		}
		if predicate == nil || predicate(*t) {
			t.KilledByCmd = true
		}
	}
}

func (m *Memory) Get(localID int32) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.LocalID == localID {
			return t, true
		}
	}
	return Task{}, false
}
