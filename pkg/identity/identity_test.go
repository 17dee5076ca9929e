package identity

import (
	"testing"

	"github.com/cuemby/stepd/pkg/config"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/wire"
	"github.com/stretchr/testify/require"
)

func owner() config.PwRecord {
	return config.PwRecord{
		Name:    "alice",
		UID:     1001,
		GID:     1001,
		Gecos:   "Alice",
		Dir:     "/home/alice",
		Shell:   "/bin/bash",
		Groups:  []uint32{2000, 2001},
		GrNames: []string{"alice", "admins", "dev"},
	}
}

func TestGetPwMatchAlways(t *testing.T) {
	r := New(owner(), container.NewMemory())
	reply := r.GetPw(wire.GetPwRequest{Mode: wire.MatchAlways})
	require.True(t, reply.Found)
	require.Equal(t, "alice", reply.Name)
	require.Equal(t, uint32(1001), reply.UID)
}

func TestGetPwMatchPidRequiresMembership(t *testing.T) {
	c := container.NewMemory(55)
	r := New(owner(), c)

	require.True(t, r.GetPw(wire.GetPwRequest{Mode: wire.MatchPid, Pid: 55}).Found)
	require.False(t, r.GetPw(wire.GetPwRequest{Mode: wire.MatchPid, Pid: 999}).Found)
}

func TestGetPwMatchUserAndPid(t *testing.T) {
	c := container.NewMemory(55)
	r := New(owner(), c)

	require.True(t, r.GetPw(wire.GetPwRequest{Mode: wire.MatchUserAndPid, Pid: 55, UID: 1001}).Found)
	require.False(t, r.GetPw(wire.GetPwRequest{Mode: wire.MatchUserAndPid, Pid: 55, UID: 42}).Found)
}

func TestGetGrEachEntryHasOneMember(t *testing.T) {
	r := New(owner(), container.NewMemory())
	reply := r.GetGr(wire.GetGrRequest{Mode: wire.MatchAlways})
	require.Len(t, reply.Groups, 3) // primary + 2 secondary
	for _, g := range reply.Groups {
		require.Equal(t, "alice", g.OwnerName)
	}
}

func TestGetGrMatchGroupAndPid(t *testing.T) {
	c := container.NewMemory(55)
	r := New(owner(), c)

	require.True(t, r.GetGr(wire.GetGrRequest{Mode: wire.MatchGroupAndPid, Pid: 55, Name: "admins"}).Groups != nil)
	reply := r.GetGr(wire.GetGrRequest{Mode: wire.MatchGroupAndPid, Pid: 55, Name: "nonexistent"})
	require.Empty(t, reply.Groups)
}
