package client_test

import (
	"os"
	"testing"

	"github.com/cuemby/stepd/pkg/client"
	"github.com/cuemby/stepd/pkg/completion"
	"github.com/cuemby/stepd/pkg/container"
	"github.com/cuemby/stepd/pkg/server"
	"github.com/cuemby/stepd/pkg/socketloc"
	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/cuemby/stepd/pkg/stepstate"
	"github.com/cuemby/stepd/pkg/tasktable"
	"github.com/cuemby/stepd/pkg/wire"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, spoolDir, nodeName string, id stepid.ID) *server.Listener {
	t.Helper()

	path, err := socketloc.Build(spoolDir, nodeName, id)
	require.NoError(t, err)

	state := stepstate.New()
	state.Advance(stepstate.Running)
	core := &server.Core{
		Step:          id,
		NodeID:        7,
		OwnerUID:      uint32(os.Getuid()),
		State:         state,
		Container:     container.NewMemory(42),
		Tasks:         tasktable.NewMemory(tasktable.Task{LocalID: 0, Pid: 42}),
		Completion:    completion.New(0, 1),
		IsServiceUser: func(uid uint32) bool { return uid == uint32(os.Getuid()) },
	}

	ln, err := server.Listen(path, core)
	require.NoError(t, err)
	go ln.Serve()

	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestConnectAndState(t *testing.T) {
	spoolDir := t.TempDir()
	nodeName := "node1"
	id := stepid.ID{JobID: 100, StepID: 0}
	startTestServer(t, spoolDir, nodeName, id)

	sess, err := client.Connect(spoolDir, nodeName, id, uint32(os.Getuid()))
	require.NoError(t, err)
	defer sess.Close()

	require.Equal(t, wire.ProtocolVersion, sess.ServerVersion())

	reply, err := sess.State()
	require.NoError(t, err)
	require.Equal(t, uint32(stepstate.Running), reply.State)
}

func TestTypedCallsRoundTrip(t *testing.T) {
	spoolDir := t.TempDir()
	nodeName := "node1"
	id := stepid.ID{JobID: 200, StepID: 3}
	startTestServer(t, spoolDir, nodeName, id)

	sess, err := client.Connect(spoolDir, nodeName, id, uint32(os.Getuid()))
	require.NoError(t, err)
	defer sess.Close()

	info, err := sess.Info()
	require.NoError(t, err)
	require.Equal(t, id.JobID, info.JobID)
	require.Equal(t, id.StepID, info.StepID)

	pids, err := sess.ListPids()
	require.NoError(t, err)
	require.Contains(t, pids.Pids, uint32(42))

	in, err := sess.PidInContainer(42)
	require.NoError(t, err)
	require.True(t, in.In)
}

func TestSupportsAttachAtNegotiatedVersion(t *testing.T) {
	spoolDir := t.TempDir()
	nodeName := "node1"
	id := stepid.ID{JobID: 300, StepID: 0}
	startTestServer(t, spoolDir, nodeName, id)

	sess, err := client.Connect(spoolDir, nodeName, id, uint32(os.Getuid()))
	require.NoError(t, err)
	defer sess.Close()

	require.True(t, sess.Supports(wire.OpAttach))
}

func TestConnectRetriesThenFails(t *testing.T) {
	spoolDir := t.TempDir()
	nodeName := "ghost"
	id := stepid.ID{JobID: 999, StepID: 0}

	_, err := client.Connect(spoolDir, nodeName, id, uint32(os.Getuid()))
	require.Error(t, err)
}
