package main

import (
	"sync"

	"github.com/cuemby/stepd/pkg/acct"
	"github.com/cuemby/stepd/pkg/completion"
	"github.com/cuemby/stepd/pkg/stepid"
)

// externLedger is the default pkg/extern.Ledger: it has no accounting
// backend, so Enter discards the extern pid's entry tuple and Exit
// always hands back the zero Snapshot. A deployment with a cgroup-based
// accounting poller wires its own Ledger in place of this one.
type externLedger struct {
	completion *completion.State
}

func (l externLedger) Enter(pid int32, nodeID uint32, step stepid.ID) {}

func (l externLedger) Exit(pid int32) acct.Snapshot { return acct.Snapshot{} }

// nopNotifier satisfies pkg/extern.ProfilingNotifier for a build with no
// profiling backend wired in.
type nopNotifier struct{}

func (nopNotifier) TaskEnded(pid int32) {}

// nopAggregator satisfies pkg/extern.Aggregator for a build with no
// separate resource-accounting aggregate to fold into; its method is
// still exercised so the tracker's fold-in step has somewhere to go.
type nopAggregator struct {
	mu     sync.Mutex
	folded uint64
}

func (a *nopAggregator) Fold(s acct.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.folded += s.Energy
}
