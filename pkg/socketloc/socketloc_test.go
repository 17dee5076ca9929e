package socketloc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/stepd/pkg/stepid"
	"github.com/stretchr/testify/require"
)

func TestBuildScanRoundTrip(t *testing.T) {
	dir := t.TempDir()

	ids := []stepid.ID{
		{JobID: 42, StepID: 0},
		{JobID: 42, StepID: stepid.Extern},
		{JobID: 7, StepID: 3, HasHet: true, HetComponent: 2},
	}

	for _, id := range ids {
		path, err := Build(dir, "node_A", id)
		require.NoError(t, err)
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	locs, err := Scan(dir, "node_A")
	require.NoError(t, err)
	require.Len(t, locs, len(ids))

	for _, loc := range locs {
		rebuilt, err := Build(dir, loc.NodeName, loc.ID)
		require.NoError(t, err)
		require.Equal(t, loc.Path, rebuilt)
	}
}

func TestBuildRejectsOverlongPath(t *testing.T) {
	longDir := "/tmp/" + repeatString("x", 120)
	_, err := Build(longDir, "node_A", stepid.ID{JobID: 1, StepID: 0})
	require.ErrorIs(t, err, ErrNameTooLong)
}

func repeatString(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestCleanIfStray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_A_42.1")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	uid := uint32(os.Getuid())

	// Fresh file: not stray.
	removed, err := CleanIfStray(path, uid)
	require.NoError(t, err)
	require.False(t, removed)
	_, err = os.Stat(path)
	require.NoError(t, err)

	// Backdate beyond StrayAge: now stray.
	old := time.Now().Add(-11 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	removed, err = CleanIfStray(path, uid)
	require.NoError(t, err)
	require.True(t, removed)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestCleanIfStrayUnprivilegedNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_A_42.1")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	old := time.Now().Add(-11 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	// Neither root nor the configured service uid: must not touch the file.
	removed, err := CleanIfStray(path, uint32(os.Getuid())+12345)
	require.NoError(t, err)
	if os.Getuid() != 0 {
		require.False(t, removed)
		_, err = os.Stat(path)
		require.NoError(t, err)
	}
}
