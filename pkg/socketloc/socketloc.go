// Package socketloc builds, scans for, and cleans up the step daemon's
// Unix-domain socket path. It never opens a socket itself; it only hands
// callers the path (and, for Scan, the parsed identity) they need to
// connect or bind with.
package socketloc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/stepd/pkg/log"
	"github.com/cuemby/stepd/pkg/stepid"
	"golang.org/x/sys/unix"
)

// maxUnixPathLen is the typical size of sockaddr_un.sun_path, including
// the NUL terminator, so a usable path is at most 107 bytes.
const maxUnixPathLen = 108

// ErrNameTooLong is returned by Build when the composed path would not
// fit in a sockaddr_un.
var ErrNameTooLong = errors.New("socketloc: socket path exceeds platform length limit")

// StrayAge is the minimum mtime age (§4.2, §6 staleness criterion) for a
// socket to be considered abandoned by a crashed daemon.
const StrayAge = 10 * time.Minute

// Build composes the socket path for a step on this node.
func Build(spoolDir, nodeName string, id stepid.ID) (string, error) {
	name := nodeName + "_" + id.String()
	path := filepath.Join(spoolDir, name)
	if len(path) >= maxUnixPathLen {
		return "", fmt.Errorf("%w: %q is %d bytes, limit %d", ErrNameTooLong, path, len(path), maxUnixPathLen)
	}
	return path, nil
}

// Loc is one scanned step socket: its path, the node it belongs to, and
// its parsed identity.
type Loc struct {
	Path     string
	NodeName string
	ID       stepid.ID
}

var entryPattern = regexp.MustCompile(`^(.+)_([0-9]+)\.([0-9]+)(?:\.([0-9]+))?$`)

// Scan enumerates spoolDir for sockets belonging to nodeName and returns
// one Loc per match, sorted by file name. It never opens any of them.
func Scan(spoolDir, nodeName string) ([]Loc, error) {
	entries, err := os.ReadDir(spoolDir)
	if err != nil {
		return nil, fmt.Errorf("socketloc: scan %s: %w", spoolDir, err)
	}

	prefix := nodeName + "_"
	var out []Loc
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		m := entryPattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != nodeName {
			continue
		}
		jobID, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			continue
		}
		stepID, err := strconv.ParseUint(m[3], 10, 32)
		if err != nil {
			continue
		}
		id := stepid.ID{JobID: uint32(jobID), StepID: uint32(stepID)}
		if m[4] != "" {
			het, err := strconv.ParseUint(m[4], 10, 32)
			if err != nil {
				continue
			}
			id.HasHet = true
			id.HetComponent = uint32(het)
		}
		out = append(out, Loc{
			Path:     filepath.Join(spoolDir, e.Name()),
			NodeName: nodeName,
			ID:       id,
		})
	}
	return out, nil
}

// IsPrivileged reports whether the current process may perform stray
// cleanup: running as root, or as the configured service uid.
func IsPrivileged(serviceUID uint32) bool {
	uid := uint32(os.Getuid())
	return uid == 0 || uid == serviceUID
}

// CleanIfStray unlinks path if it looks like a socket abandoned by a
// daemon that crashed without cleaning up: the caller must be
// privileged, the file must be owned by the caller's uid, and its mtime
// must be older than StrayAge. It is a no-op (not an error) when any of
// those conditions doesn't hold, mirroring "do not attempt cleanup when
// running unprivileged" (§4.2).
func CleanIfStray(path string, serviceUID uint32) (removed bool, err error) {
	if !IsPrivileged(serviceUID) {
		return false, nil
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("socketloc: stat %s: %w", path, err)
	}

	if st.Uid != uint32(os.Getuid()) {
		return false, nil
	}

	mtime := time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	if time.Since(mtime) < StrayAge {
		return false, nil
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("socketloc: unlink stray socket %s: %w", path, err)
	}
	log.WithComponent("socketloc").Info().Str("path", path).Msg("removed stray socket")
	return true, nil
}
