package server

import (
	"os"

	"github.com/cuemby/stepd/pkg/frame"
	"github.com/cuemby/stepd/pkg/tasktable"
	"github.com/cuemby/stepd/pkg/wire"
)

func daemonPid() int32 { return int32(os.Getpid()) }

// Dispatch decodes one request for op, runs its handler, and writes
// the framed reply — the per-opcode body of §4.5's request loop step
// 2-4. peerUID is the credential captured at handshake time.
func (c *Core) Dispatch(op wire.Opcode, peerUID uint32, r *frame.Reader, w *frame.Writer) error {
	if !wire.Recognized(op) {
		return wire.WriteRCReply(w, wire.Fail(wire.ErrUnrecognizedOpcode))
	}
	if !c.Authorize(op, peerUID) {
		if err := c.writeUnauthorized(op, w); err != nil {
			return err
		}
		return nil
	}

	switch op {
	case wire.OpState:
		return wire.StateReply{State: uint32(c.State.Get())}.WriteTo(w)

	case wire.OpInfo:
		return wire.InfoReply{
			UID:             c.OwnerUID,
			JobID:           c.Step.JobID,
			StepID:          c.Step.StepID,
			ProtocolVersion: wire.ProtocolVersion,
			NodeID:          c.NodeID,
			JobMem:          c.JobMem,
			StepMem:         c.StepMem,
		}.WriteTo(w)

	case wire.OpMemLimits:
		return wire.MemLimitsReply{JobMem: c.JobMem, StepMem: c.StepMem}.WriteTo(w)

	case wire.OpUID:
		return wire.UIDReply{UID: c.OwnerUID}.WriteTo(w)

	case wire.OpNodeID:
		return wire.NodeIDReply{NodeID: c.NodeID}.WriteTo(w)

	case wire.OpDaemonPid:
		return wire.DaemonPidReply{Pid: daemonPid()}.WriteTo(w)

	case wire.OpStepStat:
		snap := c.Completion.Accounting()
		return wire.StepStatReply{
			Accounting:   snap.Encode(),
			NumLiveTasks: liveTaskCount(c.Tasks),
		}.WriteTo(w)

	case wire.OpStepTaskInfo:
		tasks := c.Tasks.All()
		reply := wire.TaskInfoReply{Tasks: make([]wire.TaskInfoEntry, len(tasks))}
		for i, t := range tasks {
			reply.Tasks[i] = wire.TaskInfoEntry{
				LocalID:    t.LocalID,
				GlobalID:   t.GlobalID,
				Pid:        t.Pid,
				Exited:     t.Exited,
				ExitStatus: t.ExitStatus,
			}
		}
		return reply.WriteTo(w)

	case wire.OpStepListPids:
		pids := c.Container.Pids()
		reply := wire.ListPidsReply{Pids: make([]uint32, len(pids))}
		for i, p := range pids {
			reply.Pids[i] = uint32(p)
		}
		return reply.WriteTo(w)

	case wire.OpPidInContainer:
		req, err := wire.ReadPidInContainerRequest(r)
		if err != nil {
			return err
		}
		return wire.PidInContainerReply{In: c.Container.Contains(req.Pid)}.WriteTo(w)

	case wire.OpX11Display:
		return wire.X11DisplayReply{Display: c.X11.Display, XauthorityPath: c.X11.XauthorityPath}.WriteTo(w)

	case wire.OpGetPw:
		req, err := wire.ReadGetPwRequest(r)
		if err != nil {
			return err
		}
		if c.Identity == nil {
			return wire.GetPwReply{}.WriteTo(w)
		}
		return c.Identity.GetPw(req).WriteTo(w)

	case wire.OpGetGr:
		req, err := wire.ReadGetGrRequest(r)
		if err != nil {
			return err
		}
		if c.Identity == nil {
			return wire.GetGrReply{}.WriteTo(w)
		}
		return c.Identity.GetGr(req).WriteTo(w)

	case wire.OpSignalContainer:
		req, err := wire.ReadSignalContainerRequest(r)
		if err != nil {
			return err
		}
		req.RequestorUID = peerUID
		return wire.WriteRCReply(w, c.Lifecycle.SignalContainer(req))

	case wire.OpJobNotify:
		req, err := wire.ReadJobNotifyRequest(r)
		if err != nil {
			return err
		}
		return c.Lifecycle.Notify(req).WriteTo(w)

	case wire.OpStepSuspend:
		req, err := wire.ReadSuspendPhase0Request(r)
		if err != nil {
			return err
		}
		return wire.WriteRCReply(w, c.Lifecycle.SuspendStep(req))

	case wire.OpStepResume:
		req, err := wire.ReadSuspendPhase0Request(r)
		if err != nil {
			return err
		}
		return wire.WriteRCReply(w, c.Lifecycle.ResumeStep(req))

	case wire.OpStepTerminate:
		return wire.WriteRCReply(w, c.Lifecycle.Terminate())

	case wire.OpStepReconfigure:
		return wire.WriteRCReply(w, c.Lifecycle.Reconfigure())

	case wire.OpStepCompletion:
		req, err := wire.ReadCompletionRequest(r)
		if err != nil {
			return err
		}
		var writeErr error
		c.Lifecycle.CompletionReport(req, func(rep wire.RCReply) {
			writeErr = wire.WriteRCReply(w, rep)
		})
		return writeErr

	case wire.OpAddExternPid:
		req, err := wire.ReadAddExternPidRequest(r)
		if err != nil {
			return err
		}
		if !c.Step.IsExtern() || c.Extern == nil {
			return wire.AddExternPidReply{RC: wire.ErrInval}.WriteTo(w)
		}
		c.Extern.Add(req.Pid)
		return wire.AddExternPidReply{RC: wire.RCOk}.WriteTo(w)

	case wire.OpAttach:
		req, err := wire.ReadAttachRequest(r)
		if err != nil {
			return err
		}
		return c.Lifecycle.Attach(req).WriteTo(w)

	default:
		return wire.WriteRCReply(w, wire.Fail(wire.ErrUnrecognizedOpcode))
	}
}

// writeUnauthorized writes whatever failure shape op's reply uses.
// Most opcodes share the (rc, errno) shape; ADD_EXTERN_PID, ATTACH and
// JOB_NOTIFY have a bespoke reply whose leading RC field carries
// ErrPerm in place of RCOk.
func (c *Core) writeUnauthorized(op wire.Opcode, w *frame.Writer) error {
	switch op {
	case wire.OpAddExternPid:
		return wire.AddExternPidReply{RC: wire.ErrPerm}.WriteTo(w)
	case wire.OpAttach:
		return wire.AttachReply{RC: wire.ErrPerm}.WriteTo(w)
	case wire.OpJobNotify:
		return wire.JobNotifyReply{RC: wire.ErrPerm}.WriteTo(w)
	default:
		return wire.WriteRCReply(w, wire.Fail(wire.ErrPerm))
	}
}

// liveTaskCount counts tasks that have neither exited nor aborted.
func liveTaskCount(tasks tasktable.Table) int32 {
	var n int32
	for _, t := range tasks.All() {
		if !t.Exited && !t.Aborted {
			n++
		}
	}
	return n
}
