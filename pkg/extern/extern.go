// Package extern implements the Extern-PID Tracker (spec.md §4.8): the
// ADD_EXTERN_PID registration path and the per-pid watcher that adopts
// processes this daemon never spawned — the SSH/login-shell case where
// a step's real work forks and detaches from its parent.
//
// The tracker never interprets accounting or profiling data itself; it
// only drives the typed collaborators named in spec.md §1 (the
// process-tracking container, the task- and resource-accounting
// layers, the profiling layer) from a ticker-fed poll loop per tracked
// pid, torn down on exit.
package extern

import (
	"sync"
	"time"

	"github.com/cuemby/stepd/pkg/acct"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/stepid"
)

// PollInterval is how often a watcher checks whether its pid is still
// alive. The spec leaves the interval unspecified; this is conservative
// enough to notice exit promptly without busy-polling.
const PollInterval = 200 * time.Millisecond

// Prober abstracts the two kernel facts the tracker needs per pid:
// liveness (kill(pid,0)/ESRCH) and parentage (for orphan detection).
// Production code polls /proc; tests inject a fake so the suite stays
// hermetic (spec.md §5 testing strategy).
type Prober interface {
	// Alive reports whether pid still exists.
	Alive(pid int32) bool
	// Ppid returns pid's parent pid. ok is false if pid is already gone.
	Ppid(pid int32) (ppid int32, ok bool)
}

// Ledger is the typed handle onto the task- and resource-accounting
// layers (spec.md §4.8 steps 2–3). Both layers are keyed the same way
// for an extern pid — the fabricated (task_id=node_id, node_id, step)
// tuple — so this core models them as one collaborator rather than two
// parallel ones; a real backend is free to fan Enter/Exit out to
// separate subsystems internally.
type Ledger interface {
	// Enter records pid as a newly adopted task under the fabricated
	// tuple (task_id=nodeID, nodeID, step).
	Enter(pid int32, nodeID uint32, step stepid.ID)
	// Exit removes pid's entry and returns its final accounting
	// snapshot for fold-in.
	Exit(pid int32) acct.Snapshot
}

// ProfilingNotifier is the typed handle onto the profiling layer
// notified when an extern task ends.
type ProfilingNotifier interface {
	TaskEnded(pid int32)
}

// Aggregator folds a final accounting snapshot into the step's
// aggregate (the same aggregate pkg/completion maintains for the
// step's own children).
type Aggregator interface {
	Fold(s acct.Snapshot)
}

// Tracker owns the extern-pid registration and watcher lifecycle for
// one EXTERN pseudo-step daemon (spec.md §4.8: "only valid on the
// EXTERN pseudo-step").
type Tracker struct {
	container container.Container
	ledger    Ledger
	profiling ProfilingNotifier
	aggregate Aggregator
	prober    Prober
	nodeID    uint32
	step      stepid.ID

	mu      sync.Mutex
	tracked map[int32]chan struct{} // pid -> stop channel for its watcher
	wg      sync.WaitGroup
}

// New creates a Tracker for the EXTERN daemon at nodeID tracking step.
func New(c container.Container, l Ledger, p ProfilingNotifier, a Aggregator, prober Prober, nodeID uint32, step stepid.ID) *Tracker {
	return &Tracker{
		container: c,
		ledger:    l,
		profiling: p,
		aggregate: a,
		prober:    prober,
		nodeID:    nodeID,
		step:      step,
		tracked:   make(map[int32]chan struct{}),
	}
}

// Add runs the ADD_EXTERN_PID registration sequence (spec.md §4.8
// steps 1–4) and returns once the watcher goroutine has been launched.
// Registering a pid already tracked is a no-op.
func (t *Tracker) Add(pid int32) {
	t.mu.Lock()
	if _, already := t.tracked[pid]; already {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.tracked[pid] = stop
	t.mu.Unlock()

	t.container.Add(pid)
	t.ledger.Enter(pid, t.nodeID, t.step)

	t.wg.Add(1)
	go t.watch(pid, stop)
}

// Wait blocks until every tracked pid's watcher has exited — used by
// tests and by graceful shutdown to drain before the process exits.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// watch blocks until pid is gone, then folds its final counters in,
// notifies profiling, and adopts any orphaned descendants it leaves
// behind (spec.md §4.8 step 4).
func (t *Tracker) watch(pid int32, stop chan struct{}) {
	defer t.wg.Done()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ticker.C:
			if !t.prober.Alive(pid) {
				break poll
			}
		case <-stop:
			return
		}
	}

	t.retire(pid)
}

// retire performs the exit-time fold-in, notification, and orphan
// sweep shared by the normal poll-to-exit path.
func (t *Tracker) retire(pid int32) {
	final := t.ledger.Exit(pid)
	t.aggregate.Fold(final.ResetEnergy())
	t.container.Remove(pid)
	t.profiling.TaskEnded(pid)

	t.mu.Lock()
	delete(t.tracked, pid)
	t.mu.Unlock()

	t.adoptOrphans()
}

// adoptOrphans enumerates the container's remaining pids and
// recursively registers any whose parent pid is now 1 — the
// re-parented orphan case spec.md §4.8 describes for a detaching
// login shell.
func (t *Tracker) adoptOrphans() {
	for _, pid := range t.container.Pids() {
		t.mu.Lock()
		_, already := t.tracked[pid]
		t.mu.Unlock()
		if already {
			continue
		}
		ppid, ok := t.prober.Ppid(pid)
		if !ok || ppid != 1 {
			continue
		}
		t.Add(pid)
	}
}
