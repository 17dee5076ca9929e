package extern

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/stepd/pkg/acct"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/stretchr/testify/require"
)

// fakeProber is an injectable Prober so tests never touch a real pid
// (spec.md §5: "a fake process harness ... rather than spawning real
// processes, to keep tests hermetic").
type fakeProber struct {
	mu    sync.Mutex
	alive map[int32]bool
	ppid  map[int32]int32
}

func newFakeProber() *fakeProber {
	return &fakeProber{alive: map[int32]bool{}, ppid: map[int32]int32{}}
}

func (f *fakeProber) Alive(pid int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeProber) Ppid(pid int32) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.ppid[pid]
	return p, ok
}

func (f *fakeProber) setAlive(pid int32, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = alive
}

func (f *fakeProber) setPpid(pid, ppid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ppid[pid] = ppid
}

// fakeLedger records Enter/Exit calls and hands back a fixed snapshot
// per pid on Exit.
type fakeLedger struct {
	mu       sync.Mutex
	entered  []int32
	final    map[int32]acct.Snapshot
	exited   []int32
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{final: map[int32]acct.Snapshot{}}
}

func (l *fakeLedger) Enter(pid int32, nodeID uint32, step stepid.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entered = append(l.entered, pid)
}

func (l *fakeLedger) Exit(pid int32) acct.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exited = append(l.exited, pid)
	return l.final[pid]
}

type fakeNotifier struct {
	mu    sync.Mutex
	ended []int32
}

func (n *fakeNotifier) TaskEnded(pid int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, pid)
}

type fakeAggregator struct {
	mu     sync.Mutex
	folded []acct.Snapshot
}

func (a *fakeAggregator) Fold(s acct.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.folded = append(a.folded, s)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "condition never became true")
}

func TestAddRegistersAndWatcherFoldsOnExit(t *testing.T) {
	c := container.NewMemory()
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	agg := &fakeAggregator{}
	prober := newFakeProber()
	ledger.final[42] = acct.Snapshot{Energy: 99}

	tr := New(c, ledger, notifier, agg, prober, 7, stepid.ID{JobID: 1, StepID: stepid.Extern})

	prober.setAlive(42, true)
	tr.Add(42)
	require.True(t, c.Contains(42))
	require.Equal(t, []int32{42}, ledger.entered)

	prober.setAlive(42, false)
	tr.Wait()

	require.Equal(t, []int32{42}, ledger.exited)
	require.Equal(t, []int32{42}, notifier.ended)
	require.Len(t, agg.folded, 1)
	require.Equal(t, uint64(0), agg.folded[0].Energy) // reset before fold-in
	require.False(t, c.Contains(42))
}

func TestAddIsIdempotent(t *testing.T) {
	c := container.NewMemory()
	ledger := newFakeLedger()
	prober := newFakeProber()
	prober.setAlive(1, true)
	tr := New(c, ledger, &fakeNotifier{}, &fakeAggregator{}, prober, 1, stepid.ID{})

	tr.Add(1)
	tr.Add(1)
	require.Len(t, ledger.entered, 1)

	prober.setAlive(1, false)
	tr.Wait()
}

func TestOrphanAdoption(t *testing.T) {
	c := container.NewMemory(99) // orphaned child already in the container
	ledger := newFakeLedger()
	prober := newFakeProber()
	ledger.final[1] = acct.Snapshot{}

	tr := New(c, ledger, &fakeNotifier{}, &fakeAggregator{}, prober, 1, stepid.ID{})

	prober.setAlive(1, true)
	prober.setAlive(99, true)
	prober.setPpid(99, 1) // re-parented to init once its parent (pid 1) exits

	tr.Add(1)
	prober.setAlive(1, false)

	waitFor(t, func() bool {
		return len(ledger.entered) == 2
	})
	require.ElementsMatch(t, []int32{1, 99}, ledger.entered)

	prober.setAlive(99, false)
	tr.Wait()
	require.ElementsMatch(t, []int32{1, 99}, ledger.exited)
}
