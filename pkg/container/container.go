// Package container is the typed handle onto the kernel-level
// process-tracking object spec.md calls "the container". The launcher
// that actually creates cgroups/namespaces is out of this core's scope
// (spec.md §1); this package only defines the narrow interface the
// dispatcher and lifecycle handlers need — signal, enumerate, add — and
// ships an in-memory reference implementation good enough to drive the
// rest of this module's tests end to end.
package container

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/stepd/pkg/wire"
)

// ErrNotFound is returned when the container has no process-tracking
// object for a step, e.g. a step that never registered any tasks.
var ErrNotFound = errors.New("container: not found")

// Container is the collaborator interface the core reads/writes through.
// The core never interprets *how* signals reach processes or how pids
// are grouped — it only calls these methods (spec.md §1 "appear only as
// typed handles").
type Container interface {
	// Signal delivers sig to every process in the tracked group. ESRCH
	// (already gone) must be reported via ErrNoSuchProcess so callers
	// can treat it as benign where the spec requires that (KILL, the
	// Terminate handler).
	Signal(sig wire.Signal) error
	// Pids returns the tracked process ids, in implementation-defined
	// but stable order (spec.md E1 "order as returned by the container").
	Pids() []int32
	// Contains reports whether pid belongs to this container.
	Contains(pid int32) bool
	// Add registers pid as belonging to this container (used by the
	// extern-pid tracker, spec.md §4.8).
	Add(pid int32)
	// Remove deregisters pid.
	Remove(pid int32)
}

// ErrNoSuchProcess mirrors ESRCH for a container.Signal call.
var ErrNoSuchProcess = errors.New("container: no such process")

// Memory is an in-process reference Container used by tests and by
// stepd when no real process-tracking backend is configured. It
// records delivered signals for assertions instead of actually sending
// them, so unit tests can run unprivileged and pid-free.
type Memory struct {
	mu      sync.Mutex
	pids    []int32
	signals []SignalEvent
}

// SignalEvent records one delivered signal and when it was delivered,
// so tests can assert ordering and timing (spec.md property 7).
type SignalEvent struct {
	Signal wire.Signal
	At     time.Time
}

// NewMemory creates a reference Container tracking the given pids.
func NewMemory(pids ...int32) *Memory {
	return &Memory{pids: append([]int32(nil), pids...)}
}

func (m *Memory) Signal(sig wire.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pids) == 0 && sig != wire.SIGKILL {
		return ErrNoSuchProcess
	}
	m.signals = append(m.signals, SignalEvent{Signal: sig, At: time.Now()})
	return nil
}

func (m *Memory) Pids() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int32(nil), m.pids...)
}

func (m *Memory) Contains(pid int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pids {
		if p == pid {
			return true
		}
	}
	return false
}

func (m *Memory) Add(pid int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pids {
		if p == pid {
			return
		}
	}
	m.pids = append(m.pids, pid)
}

func (m *Memory) Remove(pid int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pids {
		if p == pid {
			m.pids = append(m.pids[:i], m.pids[i+1:]...)
			return
		}
	}
}

// SignalsReceived returns the signals delivered so far, for test
// assertions (e.g. property 7, TSTP-before-STOP ordering).
func (m *Memory) SignalsReceived() []SignalEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SignalEvent(nil), m.signals...)
}
