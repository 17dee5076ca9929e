package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/stepd/pkg/completion"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/cuemby/stepd/pkg/stepstate"
	"github.com/cuemby/stepd/pkg/tasktable"
	"github.com/cuemby/stepd/pkg/wire"
	"github.com/stretchr/testify/require"
)

type fakeHooks struct {
	mu    sync.Mutex
	calls []string
}

func (h *fakeHooks) record(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, s)
}
func (h *fakeHooks) AccountingPause()       { h.record("acct-pause") }
func (h *fakeHooks) AccountingResume()      { h.record("acct-resume") }
func (h *fakeHooks) SwitchPreSuspend() error  { h.record("switch-pre-suspend"); return nil }
func (h *fakeHooks) SwitchPostSuspend() error { h.record("switch-post-suspend"); return nil }
func (h *fakeHooks) SwitchPreResume() error   { h.record("switch-pre-resume"); return nil }
func (h *fakeHooks) SwitchPostResume() error  { h.record("switch-post-resume"); return nil }
func (h *fakeHooks) CoreSpecApply(uint16)     { h.record("corespec-apply") }
func (h *fakeHooks) CoreSpecReapply()         { h.record("corespec-reapply") }

func newDaemon() (*Daemon, *container.Memory, *fakeHooks) {
	c := container.NewMemory(100, 101)
	hooks := &fakeHooks{}
	state := stepstate.New()
	state.Advance(stepstate.Running)
	d := &Daemon{
		Step:       stepid.ID{JobID: 1, StepID: 0},
		State:      state,
		Suspend:    stepstate.NewSuspendFlag(),
		Container:  c,
		Tasks:      tasktable.NewMemory(tasktable.Task{LocalID: 0, Pid: 100}, tasktable.Task{LocalID: 1, Pid: 101}),
		Completion: completion.New(0, 1),
		Hooks:      hooks,
		KillWait:   10 * time.Millisecond,
	}
	return d, c, hooks
}

func TestSignalContainerDeliversRealSignal(t *testing.T) {
	d, c, _ := newDaemon()
	reply := d.SignalContainer(wire.SignalContainerRequest{Signal: wire.SIGTERM})
	require.Equal(t, wire.RCOk, reply.RC)
	sigs := c.SignalsReceived()
	require.Len(t, sigs, 1)
	require.Equal(t, wire.SIGTERM, sigs[0].Signal)
}

func TestSignalContainerPseudoSignalNeverDelivered(t *testing.T) {
	d, c, _ := newDaemon()
	reply := d.SignalContainer(wire.SignalContainerRequest{Signal: wire.SigTimeLimit})
	require.Equal(t, wire.RCOk, reply.RC)
	require.Empty(t, c.SignalsReceived())
}

func TestSignalContainerAbortBecomesKill(t *testing.T) {
	d, c, _ := newDaemon()
	reply := d.SignalContainer(wire.SignalContainerRequest{Signal: wire.SigAbort})
	require.Equal(t, wire.RCOk, reply.RC)
	sigs := c.SignalsReceived()
	require.Len(t, sigs, 1)
	require.Equal(t, wire.SIGKILL, sigs[0].Signal)
	require.True(t, d.aborted)
}

func TestSignalContainerBlockedWhileSuspended(t *testing.T) {
	d, _, _ := newDaemon()
	d.Suspend.WithLock(func(bool) bool { return true })
	reply := d.SignalContainer(wire.SignalContainerRequest{Signal: wire.SIGTERM})
	require.Equal(t, wire.RCErr, reply.RC)
	require.Equal(t, wire.ErrStepSuspended, reply.Errno)
}

func TestSignalContainerKillAllowedWhileSuspended(t *testing.T) {
	d, c, _ := newDaemon()
	d.Suspend.WithLock(func(bool) bool { return true })
	reply := d.SignalContainer(wire.SignalContainerRequest{Signal: wire.SIGKILL})
	require.Equal(t, wire.RCOk, reply.RC)
	require.Len(t, c.SignalsReceived(), 1)
}

func TestSignalContainerTermKillOrdering(t *testing.T) {
	d, c, _ := newDaemon()
	reply := d.SignalContainer(wire.SignalContainerRequest{Signal: wire.SigTermKill})
	require.Equal(t, wire.RCOk, reply.RC)
	sigs := c.SignalsReceived()
	require.Len(t, sigs, 3)
	require.Equal(t, []wire.Signal{wire.SIGCONT, wire.SIGTERM, wire.SIGKILL}, []wire.Signal{sigs[0].Signal, sigs[1].Signal, sigs[2].Signal})
}

func TestSuspendThenResumeOrderingAndIdempotence(t *testing.T) {
	d, c, hooks := newDaemon()
	d.State = stepstate.New()
	d.State.Advance(stepstate.Running)
	d.SuspendSettleOverride = time.Millisecond

	reply := d.SuspendStep(wire.SuspendPhase0Request{CoreSpec: 2})
	require.Equal(t, wire.RCOk, reply.RC)
	require.True(t, d.Suspend.Get())

	sigs := c.SignalsReceived()
	require.Len(t, sigs, 2)
	require.Equal(t, wire.SIGTSTP, sigs[0].Signal)
	require.Equal(t, wire.SIGSTOP, sigs[1].Signal)

	// redundant suspend is idempotent
	reply2 := d.SuspendStep(wire.SuspendPhase0Request{})
	require.Equal(t, wire.RCErr, reply2.RC)
	require.Equal(t, wire.ErrStepSuspended, reply2.Errno)

	resumeReply := d.ResumeStep(wire.SuspendPhase0Request{CoreSpec: 2})
	require.Equal(t, wire.RCOk, resumeReply.RC)
	require.False(t, d.Suspend.Get())

	require.Contains(t, hooks.calls, "switch-pre-suspend")
	require.Contains(t, hooks.calls, "corespec-reapply")

	// redundant resume is idempotent
	resumeReply2 := d.ResumeStep(wire.SuspendPhase0Request{})
	require.Equal(t, wire.RCErr, resumeReply2.RC)
	require.Equal(t, wire.ErrStepNotSuspended, resumeReply2.Errno)
}

func TestTerminateThawsSuspendedStep(t *testing.T) {
	d, c, _ := newDaemon()
	d.Suspend.WithLock(func(bool) bool { return true })

	reply := d.Terminate()
	require.Equal(t, wire.RCOk, reply.RC)
	require.False(t, d.Suspend.Get())
	sigs := c.SignalsReceived()
	require.Equal(t, wire.SIGKILL, sigs[len(sigs)-1].Signal)
}

func TestCompletionReportUnderLock(t *testing.T) {
	d, _, _ := newDaemon()
	d.Completion = completion.New(0, 3)

	var got wire.RCReply
	d.CompletionReport(wire.CompletionRequest{First: 1, Last: 3, StepRC: 7}, func(r wire.RCReply) {
		got = r
	})
	require.Equal(t, wire.RCOk, got.RC)
	require.Equal(t, int32(7), d.Completion.StepRC())
}

func TestCompletionReportRejectedAfterGiveUp(t *testing.T) {
	d, _, _ := newDaemon()
	d.Completion = completion.New(0, 3)
	d.Completion.Wait(5 * time.Millisecond)

	var got wire.RCReply
	d.CompletionReport(wire.CompletionRequest{First: 1, Last: 3, StepRC: 7}, func(r wire.RCReply) {
		got = r
	})
	require.Equal(t, wire.RCErr, got.RC)
	require.Equal(t, wire.ErrTimedOut, got.Errno)
}

func TestAttachRequiresRunning(t *testing.T) {
	d, _, _ := newDaemon()
	d.State = stepstate.New() // NOT_RUNNING
	reply := d.Attach(wire.AttachRequest{})
	require.Equal(t, wire.ErrNotRunning, reply.RC)
}

func TestAttachReturnsTaskRoster(t *testing.T) {
	d, _, _ := newDaemon()
	reply := d.Attach(wire.AttachRequest{})
	require.Equal(t, wire.RCOk, reply.RC)
	require.Len(t, reply.Pids, 2)
}
