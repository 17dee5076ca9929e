package extern

import (
	"bytes"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// ProcProber is the production Prober, backed by kill(pid,0)/ESRCH for
// liveness (spec.md §4.8: "polled by kill(pid, 0) returning -1 with
// ESRCH") and /proc/<pid>/stat for parentage.
type ProcProber struct{}

// Alive reports whether pid still exists. EPERM (exists, owned by
// someone else) counts as alive; only ESRCH means gone.
func (ProcProber) Alive(pid int32) bool {
	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}

// Ppid parses the ppid field out of /proc/<pid>/stat. The comm field
// may itself contain spaces or parentheses, so the scan starts after
// the last ')' rather than splitting naively on spaces.
func (ProcProber) Ppid(pid int32) (int32, bool) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(int(pid)) + "/stat")
	if err != nil {
		return 0, false
	}
	close := bytes.LastIndexByte(data, ')')
	if close < 0 || close+2 >= len(data) {
		return 0, false
	}
	fields := bytes.Fields(data[close+2:])
	// fields[0] is state, fields[1] is ppid.
	if len(fields) < 2 {
		return 0, false
	}
	ppid, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return 0, false
	}
	return int32(ppid), true
}
