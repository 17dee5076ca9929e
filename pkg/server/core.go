// Package server implements the Server Accept Loop (spec.md §4.4) and
// the per-connection Request Dispatcher (spec.md §4.5): binding the
// step daemon's socket, accepting connections, performing the
// peer-credential handshake, and routing each opcode to the business
// logic in pkg/lifecycle, pkg/identity and pkg/extern.
package server

import (
	"github.com/cuemby/stepd/pkg/completion"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/extern"
	"github.com/cuemby/stepd/pkg/identity"
	"github.com/cuemby/stepd/pkg/lifecycle"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/cuemby/stepd/pkg/stepstate"
	"github.com/cuemby/stepd/pkg/tasktable"
	"github.com/cuemby/stepd/pkg/wire"
)

// X11Info answers the X11_DISPLAY query. A daemon that never launched
// an X forwarding session leaves Display at 0.
type X11Info struct {
	Display        int32
	XauthorityPath string
}

// Core is everything one step daemon's dispatcher reads or mutates —
// the aggregate of every per-step collaborator this module defines.
// It is wired together once at daemon startup (cmd/stepd) and handed
// to the accept loop.
type Core struct {
	Step     stepid.ID
	NodeID   uint32
	OwnerUID uint32
	JobMem   uint64
	StepMem  uint64
	X11      X11Info

	State      *stepstate.Machine
	Container  container.Container
	Tasks      tasktable.Table
	Completion *completion.State
	Lifecycle  *lifecycle.Daemon
	Identity   *identity.Resolver
	Extern     *extern.Tracker // non-nil only on the EXTERN pseudo-step

	// IsServiceUser reports whether uid is the authorized service user
	// (root or the configured service uid); wired to config.Config in
	// production, faked in tests.
	IsServiceUser func(uid uint32) bool
}

// Authorize enforces the §4.5 authorization tiers for one opcode given
// the caller's authenticated peer uid.
func (c *Core) Authorize(op wire.Opcode, peerUID uint32) bool {
	switch {
	case wire.QueryOnly[op]:
		return true
	case wire.OwnerOrService[op]:
		return peerUID == c.OwnerUID || c.IsServiceUser(peerUID)
	case wire.ServiceOnly[op]:
		return c.IsServiceUser(peerUID)
	default:
		return false
	}
}
