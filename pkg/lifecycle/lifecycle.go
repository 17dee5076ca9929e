// Package lifecycle implements the signal, suspend/resume, terminate,
// notify, completion, reconfigure and attach handlers (spec.md §4.6):
// the request dispatcher's actual business logic, one method per
// opcode family. Every external collaborator — the accounting poller,
// the switch/interconnect layer, the core-specialization state, the
// watchdog, the I/O attach layer — appears here only as a narrow typed
// interface, never a concrete dependency (spec.md §1).
package lifecycle

import (
	"time"

	"github.com/cuemby/stepd/pkg/completion"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/log"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/cuemby/stepd/pkg/stepstate"
	"github.com/cuemby/stepd/pkg/tasktable"
	"github.com/cuemby/stepd/pkg/wire"
)

// SuspendSettle is how long the daemon waits after delivering TSTP
// before following up with STOP, giving cooperative MPI runtimes a
// window to quiesce (spec.md §4.6: "wait ~2s").
const SuspendSettle = 2 * time.Second

// Hooks bundles the external collaborators the suspend/resume handlers
// must call out to, each a thin typed interface over a subsystem this
// core never implements itself.
type Hooks interface {
	// AccountingPause/AccountingResume tell the resource-usage poller
	// to stop/restart sampling across a suspend.
	AccountingPause()
	AccountingResume()
	// SwitchPreSuspend/SwitchPostSuspend/SwitchPreResume/SwitchPostResume
	// are the interconnect layer's suspend/resume hooks.
	SwitchPreSuspend() error
	SwitchPostSuspend() error
	SwitchPreResume() error
	SwitchPostResume() error
	// CoreSpecApply updates core-specialization bookkeeping for the
	// given core_spec value; CoreSpecReapply re-applies any CPU
	// frequency governor override on resume.
	CoreSpecApply(coreSpec uint16)
	CoreSpecReapply()
}

// Watchdog arms/disarms the per-step watchdog that escalates if a
// terminated step doesn't exit in time.
type Watchdog interface {
	Arm(step stepid.ID)
	Disarm()
}

// Attacher is the typed handle onto the I/O layer that an ATTACH
// request hands a new "srun" client descriptor to.
type Attacher interface {
	Attach(ioAddr, respAddr string, key [wire.AttachKeySize]byte) error
}

// Messenger reports whether this daemon is the designated messenger
// node for the step — the one responsible for logging user-visible
// pseudo-signal reasons (spec.md §4.6).
type Messenger interface {
	IsMessengerNode() bool
}

// Daemon holds everything one step daemon's lifecycle handlers act on.
// It is deliberately not called "Server" — the server/dispatcher
// package owns the socket and opcode routing; Daemon is pure business
// logic, callable directly from tests without any wire framing.
type Daemon struct {
	Step      stepid.ID
	State     *stepstate.Machine
	Suspend   *stepstate.SuspendFlag
	Container container.Container
	Tasks     tasktable.Table
	Completion *completion.State
	Hooks     Hooks
	Watchdog  Watchdog
	Attacher  Attacher
	Messenger Messenger

	KillWait time.Duration

	// SuspendSettleOverride replaces the package's SuspendSettle
	// constant when non-zero, so tests can exercise the TSTP-then-STOP
	// ordering without sleeping 2 real seconds.
	SuspendSettleOverride time.Duration

	// ReloadLog re-opens the log sink on STEP_RECONFIGURE (spec.md §4.6
	// "re-open the log file to cope with external log rotation").
	ReloadLog func() error

	aborted bool
}

// SignalContainer implements the SIGNAL_CONTAINER handler (spec.md
// §4.6 "Signal container").
func (d *Daemon) SignalContainer(req wire.SignalContainerRequest) wire.RCReply {
	if err := d.State.WaitRunning(); err != nil {
		return wire.Fail(wire.ErrNotRunning)
	}

	sig := req.Signal
	d.Tasks.MarkKilledByCmd(nil)

	if sig.LogsCancellation() && d.Messenger != nil && d.Messenger.IsMessengerNode() {
		log.WithComponent("lifecycle").Warn().
			Str("step", d.Step.String()).
			Int32("signal", int32(sig)).
			Msg("step ended")
	}

	if sig.IsUserVisibleReason() {
		return wire.OK()
	}

	if sig == wire.SigAbort {
		sig = wire.SIGKILL
		d.aborted = true
	}

	// The suspend lock is held across the whole delivery path below,
	// not just this idempotence check: a concurrent STEP_SUSPEND must
	// not be able to land between the check and the actual signal
	// delivery and race a KILL against a STOP/CONT (spec.md §5).
	var reply wire.RCReply
	d.Suspend.WithLock(func(suspended bool) bool {
		if suspended && sig != wire.SIGKILL {
			reply = wire.Fail(wire.ErrStepSuspended)
			return suspended
		}

		if sig == wire.SigDebugWake {
			// Platform-specific debug-resume primitive; this core has no
			// debugger attach point of its own, so there is nothing
			// further to do beyond acknowledging the request.
			reply = wire.OK()
			return suspended
		}

		if sig == wire.SigTermKill {
			_ = d.Container.Signal(wire.SIGCONT)
			_ = d.Container.Signal(wire.SIGTERM)
			time.Sleep(d.killWait())
			sig = wire.SIGKILL
		}

		if wire.FlagKillJobBatch.Has(req.Flags) && d.Step.IsBatchScript() {
			if err := d.Container.Signal(sig); err != nil && err != container.ErrNoSuchProcess {
				reply = wire.Fail(wire.ErrSrch)
				return suspended
			}
			reply = wire.OK()
			return suspended
		}

		if err := d.Container.Signal(sig); err != nil {
			if err == container.ErrNoSuchProcess && sig == wire.SIGKILL {
				reply = wire.OK()
				return suspended
			}
			reply = wire.Fail(wire.ErrSrch)
			return suspended
		}
		reply = wire.OK()
		return suspended
	})
	return reply
}

func (d *Daemon) killWait() time.Duration {
	if d.KillWait > 0 {
		return d.KillWait
	}
	return 5 * time.Second
}

func (d *Daemon) suspendSettle() time.Duration {
	if d.SuspendSettleOverride > 0 {
		return d.SuspendSettleOverride
	}
	return SuspendSettle
}

// SuspendStep implements the suspend side of STEP_SUSPEND/STEP_RESUME
// (spec.md §4.6 "Suspend / Resume"). The two-phase wire protocol
// collapses to one synchronous call here since this core's dispatcher
// processes one opcode to one reply (spec.md §4.5).
func (d *Daemon) SuspendStep(req wire.SuspendPhase0Request) wire.RCReply {
	var already bool
	d.Suspend.WithLock(func(suspended bool) bool {
		already = suspended
		return suspended
	})
	if already {
		return wire.Fail(wire.ErrStepSuspended)
	}

	d.Hooks.AccountingPause()
	if err := d.Hooks.SwitchPreSuspend(); err != nil {
		return wire.Fail(wire.ErrInval)
	}

	// TSTP first: spawned MPI runtimes need the in-band notification
	// before being frozen with STOP (spec.md §4.6, mandatory ordering).
	_ = d.Container.Signal(wire.SIGTSTP)
	time.Sleep(d.suspendSettle())
	_ = d.Container.Signal(wire.SIGSTOP)

	d.Suspend.WithLock(func(bool) bool { return true })

	if err := d.Hooks.SwitchPostSuspend(); err != nil {
		return wire.Fail(wire.ErrInval)
	}
	d.Hooks.CoreSpecApply(req.CoreSpec)
	return wire.OK()
}

// ResumeStep implements the resume side.
func (d *Daemon) ResumeStep(req wire.SuspendPhase0Request) wire.RCReply {
	var suspended bool
	d.Suspend.WithLock(func(s bool) bool {
		suspended = s
		return s
	})
	if !suspended {
		return wire.Fail(wire.ErrStepNotSuspended)
	}

	d.Hooks.AccountingResume()
	if err := d.Hooks.SwitchPreResume(); err != nil {
		return wire.Fail(wire.ErrInval)
	}
	d.Hooks.CoreSpecApply(req.CoreSpec)

	_ = d.Container.Signal(wire.SIGCONT)
	d.Suspend.WithLock(func(bool) bool { return false })

	if err := d.Hooks.SwitchPostResume(); err != nil {
		return wire.Fail(wire.ErrInval)
	}
	d.Hooks.CoreSpecReapply()
	return wire.OK()
}

// Terminate implements STEP_TERMINATE (spec.md §4.6 "Terminate").
func (d *Daemon) Terminate() wire.RCReply {
	if d.Watchdog != nil {
		d.Watchdog.Arm(d.Step)
	}
	if err := d.State.WaitRunning(); err != nil {
		return wire.Fail(wire.ErrNotRunning)
	}
	d.Tasks.MarkKilledByCmd(nil)

	d.Suspend.WithLock(func(suspended bool) bool {
		return false // KILL thaws a stopped container rather than leaving it frozen
	})

	if err := d.Container.Signal(wire.SIGKILL); err != nil && err != container.ErrNoSuchProcess {
		return wire.Fail(wire.ErrSrch)
	}
	return wire.OK()
}

// Notify implements JOB_NOTIFY: log the message prominently so any
// attached client sees it (spec.md §4.6 "Notify").
func (d *Daemon) Notify(req wire.JobNotifyRequest) wire.JobNotifyReply {
	log.WithComponent("lifecycle").Warn().
		Str("step", d.Step.String()).
		Msg(req.Message)
	return wire.JobNotifyReply{RC: wire.RCOk}
}

// CompletionReport implements STEP_COMPLETION (spec.md §4.6
// "Completion", §4.7). writeReply is called while the completion lock
// is still held — Completion.ApplyAndReply below is what makes that
// possible from the dispatcher without exposing the mutex itself.
func (d *Daemon) CompletionReport(req wire.CompletionRequest, writeReply func(wire.RCReply)) {
	d.Completion.ApplyAndReply(req.First, req.Last, req.StepRC, req.Accounting, func(err error) {
		if err != nil {
			writeReply(wire.Fail(wire.ErrTimedOut))
			return
		}
		writeReply(wire.OK())
	})
}

// Reconfigure implements STEP_RECONFIGURE: re-open the log sink
// (spec.md §4.6 "Reconfigure").
func (d *Daemon) Reconfigure() wire.RCReply {
	if d.ReloadLog != nil {
		if err := d.ReloadLog(); err != nil {
			return wire.Fail(wire.ErrInval)
		}
	}
	return wire.OK()
}

// Attach implements the ATTACH handler (spec.md §4.6 "Attach").
func (d *Daemon) Attach(req wire.AttachRequest) wire.AttachReply {
	if d.State.Get() < stepstate.Running {
		return wire.AttachReply{RC: wire.ErrNotRunning}
	}
	if d.Attacher != nil {
		if err := d.Attacher.Attach(req.IOAddr, req.RespAddr, req.Key); err != nil {
			return wire.AttachReply{RC: wire.ErrInval}
		}
	}

	tasks := d.Tasks.All()
	reply := wire.AttachReply{
		RC:       wire.RCOk,
		Pids:     make([]uint32, len(tasks)),
		GTIDs:    make([]uint32, len(tasks)),
		ExeNames: make([]string, len(tasks)),
	}
	for i, t := range tasks {
		reply.Pids[i] = uint32(t.Pid)
		reply.GTIDs[i] = t.GlobalID
		reply.ExeNames[i] = t.ExeName
	}
	return reply
}
