// Package identity implements the GETPW/GETGR emulation (spec.md
// §4.9): answering passwd/group lookups for a step's owning user out
// of the cached record in pkg/config, filtered by container membership
// so a caller outside the step's cgroup can't fish for another job's
// user record.
package identity

import (
	"github.com/cuemby/stepd/pkg/config"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/wire"
)

// Resolver answers GETPW/GETGR requests for one step daemon's owning
// user, consulting c to enforce the PID-membership filter modes.
type Resolver struct {
	owner config.PwRecord
	c     container.Container
}

// New creates a Resolver for the step owned by owner, whose container
// membership gates the MATCH_PID family of modes.
func New(owner config.PwRecord, c container.Container) *Resolver {
	return &Resolver{owner: owner, c: c}
}

// GetPw answers a GETPW request (spec.md §4.9).
func (r *Resolver) GetPw(req wire.GetPwRequest) wire.GetPwReply {
	if !r.allowed(req.Mode, req.Pid, func() bool {
		return req.UID == r.owner.UID
	}, func() bool {
		return req.Name == r.owner.Name
	}) {
		return wire.GetPwReply{}
	}
	return wire.GetPwReply{
		Found: true,
		Name:  r.owner.Name,
		UID:   r.owner.UID,
		GID:   r.owner.GID,
		Gecos: r.owner.Gecos,
		Dir:   r.owner.Dir,
		Shell: r.owner.Shell,
	}
}

// GetGr answers a GETGR request. Every group the owner belongs to is
// returned, each with exactly one member — the step owner (spec.md
// §4.9: "each group entry has exactly one member").
func (r *Resolver) GetGr(req wire.GetGrRequest) wire.GetGrReply {
	if !r.allowed(req.Mode, req.Pid, func() bool {
		return req.GID == r.owner.GID || containsUint32(r.owner.Groups, req.GID)
	}, func() bool {
		return containsString(r.owner.GrNames, req.Name)
	}) {
		return wire.GetGrReply{}
	}

	out := wire.GetGrReply{Groups: make([]wire.GetGrEntry, 0, len(r.owner.Groups)+1)}
	out.Groups = append(out.Groups, wire.GetGrEntry{Name: primaryGroupName(r.owner), GID: r.owner.GID, OwnerName: r.owner.Name})
	for i, gid := range r.owner.Groups {
		name := ""
		if i+1 < len(r.owner.GrNames) {
			name = r.owner.GrNames[i+1]
		}
		out.Groups = append(out.Groups, wire.GetGrEntry{Name: name, GID: gid, OwnerName: r.owner.Name})
	}
	return out
}

// allowed applies the four match modes spec.md §4.9 defines.
// matchUID/matchName are only consulted for the modes that need them,
// so callers can pass cheap closures.
func (r *Resolver) allowed(mode wire.PwMode, pid int32, matchUID, matchName func() bool) bool {
	switch mode {
	case wire.MatchAlways:
		return true
	case wire.MatchPid:
		return r.c != nil && r.c.Contains(pid)
	case wire.MatchUserAndPid:
		return r.c != nil && r.c.Contains(pid) && matchUID()
	case wire.MatchGroupAndPid:
		return r.c != nil && r.c.Contains(pid) && matchName()
	default:
		return false
	}
}

func primaryGroupName(p config.PwRecord) string {
	if len(p.GrNames) > 0 {
		return p.GrNames[0]
	}
	return p.Name
}

func containsUint32(s []uint32, v uint32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
