package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/stepd/pkg/completion"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/frame"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/cuemby/stepd/pkg/stepstate"
	"github.com/cuemby/stepd/pkg/tasktable"
	"github.com/cuemby/stepd/pkg/wire"
	"github.com/stretchr/testify/require"
)

func newTestCore() *Core {
	state := stepstate.New()
	state.Advance(stepstate.Running)
	return &Core{
		Step:          stepid.ID{JobID: 1, StepID: 0},
		NodeID:        9,
		OwnerUID:      uint32(os.Getuid()),
		State:         state,
		Container:     container.NewMemory(100),
		Tasks:         tasktable.NewMemory(tasktable.Task{LocalID: 0, Pid: 100}),
		Completion:    completion.New(0, 1),
		IsServiceUser: func(uid uint32) bool { return uid == 0 },
	}
}

func dialHandshake(t *testing.T, path string) (net.Conn, *frame.Reader, *frame.Writer) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)

	w := frame.NewWriter(conn)
	r := frame.NewReader(conn)
	require.NoError(t, w.WriteUint32(wire.ProtocolVersion))

	serverVersion, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, wire.ProtocolVersion, serverVersion)

	return conn, r, w
}

func TestListenAndStateQuery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sock")

	core := newTestCore()
	ln, err := Listen(path, core)
	require.NoError(t, err)
	defer ln.Close()

	go ln.Serve()

	conn, r, w := dialHandshake(t, path)
	defer conn.Close()

	require.NoError(t, w.WriteUint32(uint32(wire.OpState)))
	reply, err := wire.ReadStateReply(r)
	require.NoError(t, err)
	require.Equal(t, uint32(stepstate.Running), reply.State)
}

func TestUnauthorizedSuspendRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sock")

	core := newTestCore()
	core.IsServiceUser = func(uint32) bool { return false } // caller is never the service user
	core.OwnerUID = core.OwnerUID + 1                       // and never the owner either
	ln, err := Listen(path, core)
	require.NoError(t, err)
	defer ln.Close()

	go ln.Serve()

	conn, r, w := dialHandshake(t, path)
	defer conn.Close()

	require.NoError(t, w.WriteUint32(uint32(wire.OpStepSuspend)))
	require.NoError(t, wire.SuspendPhase0Request{}.WriteTo(w))
	reply, err := wire.ReadRCReply(r)
	require.NoError(t, err)
	require.Equal(t, wire.RCErr, reply.RC)
	require.Equal(t, wire.ErrPerm, reply.Errno)
}

func TestListenUnlinksStraySocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sock")

	// Simulate a socket left behind by a daemon that crashed without
	// cleaning up: a file occupies the path but nothing is listening.
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ln, err := Listen(path, newTestCore())
	require.NoError(t, err)
	defer ln.Close()
}

func TestStateReplyUnknownOpcodeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sock")

	core := newTestCore()
	ln, err := Listen(path, core)
	require.NoError(t, err)
	defer ln.Close()

	go ln.Serve()

	conn, r, w := dialHandshake(t, path)
	defer conn.Close()

	require.NoError(t, w.WriteUint32(uint32(9999)))
	reply, err := wire.ReadRCReply(r)
	require.NoError(t, err)
	require.Equal(t, wire.RCErr, reply.RC)
	require.Equal(t, wire.ErrUnrecognizedOpcode, reply.Errno)

	time.Sleep(10 * time.Millisecond) // let the worker goroutine observe EOF on close
}
