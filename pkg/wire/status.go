package wire

import "golang.org/x/sys/unix"

// RC is the generic "return code" field every opcode-specific reply
// struct starts with. 0 is success; -1 means "see the errno-style detail
// field" (spec.md §6/§7).
const (
	RCOk  int32 = 0
	RCErr int32 = -1
)

// Detail codes accompany RCErr. The posix-shaped ones reuse real errno
// values so a client that already understands errno needs nothing new;
// the step-specific ones occupy a range no real errno uses.
const (
	ErrNone  int32 = 0
	ErrPerm  int32 = int32(unix.EPERM)
	ErrSrch  int32 = int32(unix.ESRCH)
	ErrInval int32 = int32(unix.EINVAL)
	ErrNoEnt int32 = int32(unix.ENOENT)

	// ErrTimedOut marks a completion report rejected because the local
	// driver already gave up waiting (§4.6 Completion, property 9).
	ErrTimedOut int32 = int32(unix.ETIMEDOUT)

	// errStepBase starts the step-specific detail code range.
	errStepBase = 10000

	// ErrNotRunning is returned when a handler required state >= RUNNING
	// and the bounded wait (§3 Step Lifecycle State) timed out.
	ErrNotRunning int32 = errStepBase + 1

	// ErrStepSuspended is returned for a non-KILL signal while suspended,
	// or a redundant SUSPEND call (idempotence, property 5/6).
	ErrStepSuspended int32 = errStepBase + 2

	// ErrStepNotSuspended is returned for a redundant RESUME call.
	ErrStepNotSuspended int32 = errStepBase + 3

	// ErrUnrecognizedOpcode is returned for a defunct or unknown opcode.
	ErrUnrecognizedOpcode int32 = errStepBase + 4

	// ErrProtocol marks a malformed request payload.
	ErrProtocol int32 = errStepBase + 5
)

// RCReply is the common (rc, errno) reply shape used by most mutating
// opcodes (SIGNAL_CONTAINER, STEP_SUSPEND, STEP_RESUME, STEP_TERMINATE,
// STEP_RECONFIGURE, STEP_COMPLETION).
type RCReply struct {
	RC    int32
	Errno int32
}

// OK builds a success reply.
func OK() RCReply { return RCReply{RC: RCOk, Errno: ErrNone} }

// Fail builds a failure reply carrying a detail code.
func Fail(errno int32) RCReply { return RCReply{RC: RCErr, Errno: errno} }
