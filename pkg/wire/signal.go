package wire

import "golang.org/x/sys/unix"

// Signal is the value carried in a SIGNAL_CONTAINER request. Positive
// values are real POSIX signal numbers delivered to the container;
// negative values are pseudo-signals the daemon interprets itself and
// never forwards to a process (§4.6 Signal container).
type Signal int32

const (
	SIGHUP  Signal = Signal(unix.SIGHUP)
	SIGINT  Signal = Signal(unix.SIGINT)
	SIGCONT Signal = Signal(unix.SIGCONT)
	SIGSTOP Signal = Signal(unix.SIGSTOP)
	SIGTSTP Signal = Signal(unix.SIGTSTP)
	SIGTERM Signal = Signal(unix.SIGTERM)
	SIGKILL Signal = Signal(unix.SIGKILL)
)

// Pseudo-signals never reach a process; the daemon consumes them itself.
const (
	SigTimeLimit Signal = -1
	SigPreempted Signal = -2
	SigNodeFail  Signal = -3
	SigRequeued  Signal = -4
	SigFailure   Signal = -5
	SigUME       Signal = -6
	SigTermKill  Signal = -7
	SigAbort     Signal = -8
	SigDebugWake Signal = -9
)

// IsUserVisibleReason reports whether sig is one of the pseudo-signals
// that return immediately without ever being delivered to the
// container (§4.6). TERM_KILL is deliberately excluded: it logs the
// same cancellation line as these but still falls through to the real
// CONT/TERM/KILL delivery sequence.
func (s Signal) IsUserVisibleReason() bool {
	switch s {
	case SigTimeLimit, SigPreempted, SigNodeFail, SigRequeued, SigFailure, SigUME:
		return true
	default:
		return false
	}
}

// LogsCancellation reports whether sig should produce the single
// human-readable cancellation/failure line on the messenger node
// (§4.6), independent of whether sig is also delivered to the
// container. This is a superset of IsUserVisibleReason: it additionally
// covers TERM_KILL.
func (s Signal) LogsCancellation() bool {
	return s.IsUserVisibleReason() || s == SigTermKill
}

// SignalFlag bits accompany a SIGNAL_CONTAINER request.
type SignalFlag int32

const (
	// FlagKillJobBatch restricts delivery to the batch-script process
	// group when the target is the BATCH_SCRIPT pseudo-step.
	FlagKillJobBatch SignalFlag = 1 << 0
)

// Has reports whether flags contains bit f.
func (f SignalFlag) Has(flags int32) bool {
	return flags&int32(f) != 0
}
