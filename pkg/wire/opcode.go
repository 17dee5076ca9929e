// Package wire defines the step daemon's on-the-wire protocol: the opcode
// catalogue, the protocol version handshake, and the typed request/reply
// codecs that both pkg/client and pkg/server build on. Keeping the codec
// in one package means a request is encoded and decoded by exactly one
// piece of code regardless of which side of the socket is running it.
package wire

// Opcode identifies a request type. Values below 1000 are live; the
// 1000-1999 range is reserved for opcodes retired from the original
// protocol. The dispatcher must reject the reserved range as unrecognized
// rather than silently accepting it (see IsDefunct and Recognized).
type Opcode uint32

const (
	OpState Opcode = iota + 1
	OpInfo
	OpMemLimits
	OpUID
	OpNodeID
	OpDaemonPid
	OpSignalContainer
	OpJobNotify
	OpStepSuspend
	OpStepResume
	OpStepTerminate
	OpStepReconfigure
	OpStepCompletion
	OpStepStat
	OpStepTaskInfo
	OpStepListPids
	OpPidInContainer
	OpAddExternPid
	OpX11Display
	OpGetPw
	OpGetGr
	OpAttach
)

// defunctBase is the start of the numbering range reserved for opcodes
// that existed in earlier protocol revisions and must never be handled
// again; their numeric slots stay reserved so a stale client's opcode
// cannot be accidentally reinterpreted as something new.
const defunctBase Opcode = 1000

// IsDefunct reports whether op falls in the reserved/retired range.
func IsDefunct(op Opcode) bool {
	return op >= defunctBase && op < defunctBase+1000
}

// String names an opcode for logging.
func (op Opcode) String() string {
	switch op {
	case OpState:
		return "STATE"
	case OpInfo:
		return "INFO"
	case OpMemLimits:
		return "MEM_LIMITS"
	case OpUID:
		return "UID"
	case OpNodeID:
		return "NODEID"
	case OpDaemonPid:
		return "DAEMON_PID"
	case OpSignalContainer:
		return "SIGNAL_CONTAINER"
	case OpJobNotify:
		return "JOB_NOTIFY"
	case OpStepSuspend:
		return "STEP_SUSPEND"
	case OpStepResume:
		return "STEP_RESUME"
	case OpStepTerminate:
		return "STEP_TERMINATE"
	case OpStepReconfigure:
		return "STEP_RECONFIGURE"
	case OpStepCompletion:
		return "STEP_COMPLETION"
	case OpStepStat:
		return "STEP_STAT"
	case OpStepTaskInfo:
		return "STEP_TASK_INFO"
	case OpStepListPids:
		return "STEP_LIST_PIDS"
	case OpPidInContainer:
		return "PID_IN_CONTAINER"
	case OpAddExternPid:
		return "ADD_EXTERN_PID"
	case OpX11Display:
		return "X11_DISPLAY"
	case OpGetPw:
		return "GETPW"
	case OpGetGr:
		return "GETGR"
	case OpAttach:
		return "ATTACH"
	default:
		if IsDefunct(op) {
			return "DEFUNCT"
		}
		return "UNKNOWN"
	}
}

// Recognized reports whether op is a live, non-defunct opcode this
// protocol revision defines. Every recognized opcode appears in exactly
// one of QueryOnly, OwnerOrService or ServiceOnly.
func Recognized(op Opcode) bool {
	return QueryOnly[op] || OwnerOrService[op] || ServiceOnly[op]
}

// QueryOnly is the set of opcodes §4.5 allows any authenticated caller to
// issue, regardless of uid.
var QueryOnly = map[Opcode]bool{
	OpState:          true,
	OpInfo:           true,
	OpMemLimits:      true,
	OpUID:            true,
	OpNodeID:         true,
	OpDaemonPid:      true,
	OpStepTaskInfo:   true,
	OpStepListPids:   true,
	OpPidInContainer: true,
	OpX11Display:     true,
	OpGetPw:          true,
	OpGetGr:          true,
	OpStepStat:       true,
}

// OwnerOrService is the set of opcodes that require the caller to be
// either the step owner or the authorized service user.
var OwnerOrService = map[Opcode]bool{
	OpSignalContainer: true,
	OpJobNotify:       true,
	OpStepTerminate:   true,
}

// ServiceOnly is the set of opcodes restricted to the authorized service
// user alone. Per DESIGN.md's Open Question resolution (spec.md §9),
// ATTACH is service-only: only the node agent may attach, never the step
// owner directly.
var ServiceOnly = map[Opcode]bool{
	OpStepSuspend:     true,
	OpStepResume:      true,
	OpStepCompletion:  true,
	OpStepReconfigure: true,
	OpAddExternPid:    true,
	OpAttach:          true,
}
