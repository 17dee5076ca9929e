// Package completion implements the completion tree state (spec.md §3
// Completion Tree State) and the local-driver side of the aggregator
// (spec.md §4.7). A step daemon at an internal node of the reduction
// tree is simultaneously a receiver of STEP_COMPLETION from its
// children (pkg/lifecycle calls into this package to apply one) and a
// driver that waits for its own subtree and then forwards upward.
package completion

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/stepd/pkg/acct"
)

// ErrTimedOut is returned by Apply when the local driver has already
// given up waiting (spec.md property 9).
var ErrTimedOut = errors.New("completion: local driver already abandoned the wait")

// Bitmap tracks completion of a contiguous range of descendant ranks.
// Bit i corresponds to rank (own_rank + 1 + i).
type Bitmap struct {
	bits []bool
}

// NewBitmap creates a bitmap sized for a subtree of n descendant ranks.
func NewBitmap(n int) *Bitmap {
	return &Bitmap{bits: make([]bool, n)}
}

// SetRange sets bits [first, last] inclusive, already rank-relative.
func (b *Bitmap) SetRange(first, last int) {
	if first < 0 {
		first = 0
	}
	if last >= len(b.bits) {
		last = len(b.bits) - 1
	}
	for i := first; i <= last; i++ {
		b.bits[i] = true
	}
}

// Full reports whether every bit is set.
func (b *Bitmap) Full() bool {
	for _, v := range b.bits {
		if !v {
			return false
		}
	}
	return true
}

// Set returns the indices currently set, for test assertions.
func (b *Bitmap) Set() []int {
	var out []int
	for i, v := range b.bits {
		if v {
			out = append(out, i)
		}
	}
	return out
}

// State is the per-step completion tree state: rank, bitmap, aggregated
// return code and accounting, and the wait_children latch (spec.md §3).
type State struct {
	mu           sync.Mutex
	cond         *sync.Cond
	rank         int32
	bitmap       *Bitmap
	stepRC       int32
	aggregated   acct.Snapshot
	waitChildren bool
}

// New creates completion State for a daemon at the given rank, tracking
// a subtree of descendantCount ranks below it.
func New(rank int32, descendantCount int) *State {
	s := &State{
		rank:         rank,
		bitmap:       NewBitmap(descendantCount),
		waitChildren: true,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Apply applies one STEP_COMPLETION report under the completion lock:
// check wait_children, mutate bitmap/rc/accounting, signal. The lock is
// released before Apply returns; a caller that must write the wire
// reply while still holding the lock uses ApplyAndReply instead.
func (s *State) Apply(first, last, reportedRC int32, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(first, last, reportedRC, blob)
}

// applyLocked is Apply's body, for callers that already hold s.mu (see
// ApplyAndReply). s.mu must be held on entry.
func (s *State) applyLocked(first, last, reportedRC int32, blob []byte) error {
	if !s.waitChildren {
		return ErrTimedOut
	}

	lo := int(first - (s.rank + 1))
	hi := int(last - (s.rank + 1))
	s.bitmap.SetRange(lo, hi)

	if reportedRC > s.stepRC {
		s.stepRC = reportedRC
	}
	s.aggregated = s.aggregated.Merge(acct.Decode(blob))

	s.cond.Broadcast()
	return nil
}

// ApplyAndReply applies one STEP_COMPLETION report and calls reply
// while still holding the completion lock, so the daemon cannot exit
// between the bitmap mutation and the reply flush (spec.md design note
// "Completion reply under lock"). reply receives the Apply error, if
// any, and is responsible for writing whatever wire reply it implies.
func (s *State) ApplyAndReply(first, last, reportedRC int32, blob []byte, reply func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply(s.applyLocked(first, last, reportedRC, blob))
}

// WithLock runs fn while holding the completion lock, for callers that
// need the lock held across some other side effect (e.g. a reply
// write) without mutating completion state themselves.
func (s *State) WithLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// StepRC returns the current aggregated return code.
func (s *State) StepRC() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepRC
}

// Accounting returns the current aggregated accounting snapshot.
func (s *State) Accounting() acct.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregated
}

// BitmapSnapshot returns the set indices of the completion bitmap.
func (s *State) BitmapSnapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitmap.Set()
}

// BitmapFull reports whether the completion bitmap is fully set.
func (s *State) BitmapFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitmap.Full()
}

// WaitChildren reports whether the driver is still willing to wait.
func (s *State) WaitChildren() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitChildren
}

// Wait blocks (as the local driver) until the bitmap is full or timeout
// elapses. On timeout it flips wait_children to false — per spec.md
// §4.7, "subsequent late arrivals will be rejected" — and returns false.
func (s *State) Wait(timeout time.Duration) (complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bitmap.Full() {
		return true
	}

	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)
	for !s.bitmap.Full() && time.Now().Before(deadline) {
		s.cond.Wait()
	}

	if s.bitmap.Full() {
		return true
	}
	s.waitChildren = false
	return false
}
