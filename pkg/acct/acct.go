// Package acct is the typed handle onto the accounting subsystem: the
// resource-usage snapshot aggregated by the Completion Aggregator
// (spec.md §4.7) and fed by the Extern-PID Tracker (spec.md §4.8). The
// actual accounting backend (cgroup pollers, cluster accounting
// storage) lives outside this core; this package only defines the
// opaque blob and the merge operation the dispatcher needs.
package acct

import "encoding/binary"

// Snapshot is an opaque accounting blob. The core never interprets its
// contents beyond the single numeric field (Energy) spec.md §4.8
// requires resetting on extern-pid fold-in; everything else round-trips
// untouched so it can carry whatever fields the accounting backend
// defines without this core needing to know their layout.
type Snapshot struct {
	Energy uint64
	Opaque []byte
}

// Encode serializes a Snapshot for the wire (the STEP_COMPLETION
// "accounting" blob and the STEP_STAT reply).
func (s Snapshot) Encode() []byte {
	buf := make([]byte, 8+len(s.Opaque))
	binary.NativeEndian.PutUint64(buf[:8], s.Energy)
	copy(buf[8:], s.Opaque)
	return buf
}

// Decode parses a Snapshot previously produced by Encode. An empty or
// malformed blob decodes to the zero Snapshot rather than erroring —
// accounting is best-effort and must never fail a completion report.
func Decode(b []byte) Snapshot {
	if len(b) < 8 {
		return Snapshot{}
	}
	return Snapshot{
		Energy: binary.NativeEndian.Uint64(b[:8]),
		Opaque: append([]byte(nil), b[8:]...),
	}
}

// Merge folds other into s, the aggregation rule the Completion
// Aggregator applies to every incoming STEP_COMPLETION report.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	out := s
	out.Energy += other.Energy
	if len(other.Opaque) > len(out.Opaque) {
		out.Opaque = append([]byte(nil), other.Opaque...)
	}
	return out
}

// ResetEnergy returns a copy of s with Energy zeroed, used when folding
// an extern pid's final counters into the step aggregate so its energy
// isn't double-counted against the step total (spec.md §4.8).
func (s Snapshot) ResetEnergy() Snapshot {
	out := s
	out.Energy = 0
	return out
}
