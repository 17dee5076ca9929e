// Package client implements the Client Session (spec.md §4.3): dialing a
// step daemon's Unix-domain socket, performing the version handshake,
// and issuing one typed call per opcode on top of pkg/wire's codecs.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/stepd/pkg/frame"
	"github.com/cuemby/stepd/pkg/socketloc"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/cuemby/stepd/pkg/wire"
	"golang.org/x/sys/unix"
)

// connectAttempts and connectBackoff reproduce the original stepd_api
// client's short linear backoff around a transient ECONNREFUSED (a
// daemon still binding its socket), per SPEC_FULL.md's supplemented
// retry behavior.
const (
	connectAttempts = 3
	connectBackoff  = 50 * time.Millisecond
)

// ErrUnsupported is returned by a typed call when the negotiated
// protocol version predates the opcode it wraps.
var ErrUnsupported = errors.New("client: opcode not supported by negotiated protocol version")

// Session is one connected, version-negotiated step daemon client
// connection. Its mutex guards only the writing of a request; the
// reply is read after the mutex is released, so a Session is not safe
// for concurrent use.
type Session struct {
	conn          net.Conn
	r             *frame.Reader
	w             *frame.Writer
	mu            sync.Mutex
	serverVersion uint32
}

// Connect dials the socket for id under spoolDir/nodeName, retrying a
// transient connection refusal before treating the path as abandoned
// and attempting stray-socket cleanup (spec.md §4.2/§4.3).
func Connect(spoolDir, nodeName string, id stepid.ID, serviceUID uint32) (*Session, error) {
	path, err := socketloc.Build(spoolDir, nodeName, id)
	if err != nil {
		return nil, err
	}

	conn, err := dialWithRetry(path)
	if err != nil {
		if removed, cleanErr := socketloc.CleanIfStray(path, serviceUID); cleanErr == nil && removed {
			conn, err = dialWithRetry(path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", path, err)
	}

	return handshake(conn)
}

func dialWithRetry(path string) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !errors.Is(err, unix.ECONNREFUSED) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		time.Sleep(connectBackoff)
	}
	return nil, lastErr
}

// handshake performs the §4.3 version exchange: the client writes its
// protocol version, then reads the server's. A negative server version
// means the server rejected the handshake (stale client, bad peer
// credentials).
func handshake(conn net.Conn) (*Session, error) {
	w := frame.NewWriter(conn)
	r := frame.NewReader(conn)

	if err := w.WriteUint32(wire.ProtocolVersion); err != nil {
		conn.Close()
		return nil, err
	}

	serverVersion, err := r.ReadUint32()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if int32(serverVersion) < 0 {
		conn.Close()
		return nil, errors.New("client: server rejected handshake")
	}

	return &Session{conn: conn, r: r, w: w, serverVersion: serverVersion}, nil
}

// Close closes the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

// ServerVersion returns the protocol version the server negotiated.
func (s *Session) ServerVersion() uint32 { return s.serverVersion }

// Supports reports whether op existed in the negotiated protocol
// version, so a caller can avoid sending an opcode the server predates
// rather than relying on ErrUnrecognizedOpcode coming back.
func (s *Session) Supports(op wire.Opcode) bool {
	return introducedIn[op] <= s.serverVersion
}

// introducedIn records the protocol version each opcode first appeared
// in. Opcodes absent from this map have existed since version 1.
var introducedIn = map[wire.Opcode]uint32{
	wire.OpAttach: 3,
}

func (s *Session) call(op wire.Opcode, req interface{ WriteTo(*frame.Writer) error }) error {
	if !s.Supports(op) {
		return ErrUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.WriteUint32(uint32(op)); err != nil {
		return err
	}
	if req != nil {
		return req.WriteTo(s.w)
	}
	return nil
}

// State issues STATE.
func (s *Session) State() (wire.StateReply, error) {
	if err := s.call(wire.OpState, nil); err != nil {
		return wire.StateReply{}, err
	}
	return wire.ReadStateReply(s.r)
}

// Info issues INFO.
func (s *Session) Info() (wire.InfoReply, error) {
	if err := s.call(wire.OpInfo, nil); err != nil {
		return wire.InfoReply{}, err
	}
	return wire.ReadInfoReply(s.r)
}

// MemLimits issues MEM_LIMITS.
func (s *Session) MemLimits() (wire.MemLimitsReply, error) {
	if err := s.call(wire.OpMemLimits, nil); err != nil {
		return wire.MemLimitsReply{}, err
	}
	return wire.ReadMemLimitsReply(s.r)
}

// UID issues UID.
func (s *Session) UID() (wire.UIDReply, error) {
	if err := s.call(wire.OpUID, nil); err != nil {
		return wire.UIDReply{}, err
	}
	return wire.ReadUIDReply(s.r)
}

// NodeID issues NODEID.
func (s *Session) NodeID() (wire.NodeIDReply, error) {
	if err := s.call(wire.OpNodeID, nil); err != nil {
		return wire.NodeIDReply{}, err
	}
	return wire.ReadNodeIDReply(s.r)
}

// DaemonPid issues DAEMON_PID.
func (s *Session) DaemonPid() (wire.DaemonPidReply, error) {
	if err := s.call(wire.OpDaemonPid, nil); err != nil {
		return wire.DaemonPidReply{}, err
	}
	return wire.ReadDaemonPidReply(s.r)
}

// StepStat issues STEP_STAT.
func (s *Session) StepStat() (wire.StepStatReply, error) {
	if err := s.call(wire.OpStepStat, nil); err != nil {
		return wire.StepStatReply{}, err
	}
	return wire.ReadStepStatReply(s.r)
}

// TaskInfo issues STEP_TASK_INFO.
func (s *Session) TaskInfo() (wire.TaskInfoReply, error) {
	if err := s.call(wire.OpStepTaskInfo, nil); err != nil {
		return wire.TaskInfoReply{}, err
	}
	return wire.ReadTaskInfoReply(s.r)
}

// ListPids issues STEP_LIST_PIDS.
func (s *Session) ListPids() (wire.ListPidsReply, error) {
	if err := s.call(wire.OpStepListPids, nil); err != nil {
		return wire.ListPidsReply{}, err
	}
	return wire.ReadListPidsReply(s.r)
}

// PidInContainer issues PID_IN_CONTAINER.
func (s *Session) PidInContainer(pid int32) (wire.PidInContainerReply, error) {
	req := wire.PidInContainerRequest{Pid: pid}
	if err := s.call(wire.OpPidInContainer, req); err != nil {
		return wire.PidInContainerReply{}, err
	}
	return wire.ReadPidInContainerReply(s.r)
}

// X11Display issues X11_DISPLAY.
func (s *Session) X11Display() (wire.X11DisplayReply, error) {
	if err := s.call(wire.OpX11Display, nil); err != nil {
		return wire.X11DisplayReply{}, err
	}
	return wire.ReadX11DisplayReply(s.r)
}

// GetPw issues GETPW.
func (s *Session) GetPw(req wire.GetPwRequest) (wire.GetPwReply, error) {
	if err := s.call(wire.OpGetPw, req); err != nil {
		return wire.GetPwReply{}, err
	}
	return wire.ReadGetPwReply(s.r)
}

// GetGr issues GETGR.
func (s *Session) GetGr(req wire.GetGrRequest) (wire.GetGrReply, error) {
	if err := s.call(wire.OpGetGr, req); err != nil {
		return wire.GetGrReply{}, err
	}
	return wire.ReadGetGrReply(s.r)
}

// SignalContainer issues SIGNAL_CONTAINER. RequestorUID is filled in by
// the server from the peer-credential handshake and need not be set by
// the caller.
func (s *Session) SignalContainer(sig wire.Signal, flags int32) (wire.RCReply, error) {
	req := wire.SignalContainerRequest{Signal: sig, Flags: flags}
	if err := s.call(wire.OpSignalContainer, req); err != nil {
		return wire.RCReply{}, err
	}
	return wire.ReadRCReply(s.r)
}

// Notify issues JOB_NOTIFY.
func (s *Session) Notify(message string) (wire.JobNotifyReply, error) {
	req := wire.JobNotifyRequest{Message: message}
	if err := s.call(wire.OpJobNotify, req); err != nil {
		return wire.JobNotifyReply{}, err
	}
	return wire.ReadJobNotifyReply(s.r)
}

// Suspend issues STEP_SUSPEND.
func (s *Session) Suspend(coreSpec uint16) (wire.RCReply, error) {
	req := wire.SuspendPhase0Request{CoreSpec: coreSpec}
	if err := s.call(wire.OpStepSuspend, req); err != nil {
		return wire.RCReply{}, err
	}
	return wire.ReadRCReply(s.r)
}

// Resume issues STEP_RESUME.
func (s *Session) Resume(coreSpec uint16) (wire.RCReply, error) {
	req := wire.SuspendPhase0Request{CoreSpec: coreSpec}
	if err := s.call(wire.OpStepResume, req); err != nil {
		return wire.RCReply{}, err
	}
	return wire.ReadRCReply(s.r)
}

// Terminate issues STEP_TERMINATE.
func (s *Session) Terminate() (wire.RCReply, error) {
	if err := s.call(wire.OpStepTerminate, nil); err != nil {
		return wire.RCReply{}, err
	}
	return wire.ReadRCReply(s.r)
}

// Reconfigure issues STEP_RECONFIGURE.
func (s *Session) Reconfigure() (wire.RCReply, error) {
	if err := s.call(wire.OpStepReconfigure, nil); err != nil {
		return wire.RCReply{}, err
	}
	return wire.ReadRCReply(s.r)
}

// Completion issues STEP_COMPLETION.
func (s *Session) Completion(first, last, stepRC int32, accounting []byte) (wire.RCReply, error) {
	req := wire.CompletionRequest{First: first, Last: last, StepRC: stepRC, Accounting: accounting}
	if err := s.call(wire.OpStepCompletion, req); err != nil {
		return wire.RCReply{}, err
	}
	return wire.ReadRCReply(s.r)
}

// AddExternPid issues ADD_EXTERN_PID.
func (s *Session) AddExternPid(pid int32) (wire.AddExternPidReply, error) {
	req := wire.AddExternPidRequest{Pid: pid}
	if err := s.call(wire.OpAddExternPid, req); err != nil {
		return wire.AddExternPidReply{}, err
	}
	return wire.ReadAddExternPidReply(s.r)
}

// Attach issues ATTACH.
func (s *Session) Attach(req wire.AttachRequest) (wire.AttachReply, error) {
	if err := s.call(wire.OpAttach, req); err != nil {
		return wire.AttachReply{}, err
	}
	return wire.ReadAttachReply(s.r)
}
