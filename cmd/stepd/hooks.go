package main

import (
	"errors"

	"github.com/cuemby/stepd/pkg/log"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/cuemby/stepd/pkg/wire"
)

// errAttachUnsupported is returned by noopAttacher.Attach.
var errAttachUnsupported = errors.New("stepd: this build has no attach I/O layer")

// noopHooks is the default pkg/lifecycle.Hooks implementation for a
// stepd built without a switch/interconnect plugin or a core-spec
// backend wired in — both belong to the launcher (spec.md §1's
// "external collaborators" carve-out), so in a standalone stepd process
// every hook is an empty method that neither forwards nor logs.
type noopHooks struct{}

func (noopHooks) AccountingPause()  {}
func (noopHooks) AccountingResume() {}

func (noopHooks) SwitchPreSuspend() error  { return nil }
func (noopHooks) SwitchPostSuspend() error { return nil }
func (noopHooks) SwitchPreResume() error   { return nil }
func (noopHooks) SwitchPostResume() error  { return nil }

func (noopHooks) CoreSpecApply(coreSpec uint16) {}
func (noopHooks) CoreSpecReapply()              {}

// noopWatchdog arms/disarms nothing; a real deployment wires this to
// whatever escalates on a step that outlives its TERMINATE grace
// period (e.g. an external reaper watching the container directly).
type noopWatchdog struct{}

func (noopWatchdog) Arm(step stepid.ID) {
	log.WithComponent("watchdog").Debug().Str("step", step.String()).Msg("armed (noop)")
}
func (noopWatchdog) Disarm() {}

// noopAttacher rejects ATTACH outright; a standalone stepd has no I/O
// forwarding layer to hand the new srun client descriptor to.
type noopAttacher struct{}

func (noopAttacher) Attach(ioAddr, respAddr string, key [wire.AttachKeySize]byte) error {
	return errAttachUnsupported
}

// singleMessenger reports this node as the job's designated messenger,
// so a single-node stepd still logs user-visible pseudo-signal reasons
// (spec.md §4.6) instead of silently dropping them.
type singleMessenger struct{}

func (singleMessenger) IsMessengerNode() bool { return true }
