//go:build linux

package osthread

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

var errMalformedStat = errors.New("osthread: malformed /proc stat line")

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// CurrentTID returns the calling OS thread's id (the Linux gettid
// value, distinct from the process pid and from any Go goroutine id).
// Safe to call from a signal handler.
func CurrentTID() uint64 {
	return uint64(unix.Gettid())
}

// SendAlarm delivers sig to the OS thread tid within the current
// process via tgkill, the only signal-safe way to target a specific
// thread rather than the whole process (unix.Kill would hit a
// possibly-wrong thread under POSIX thread-group semantics).
func SendAlarm(tid uint64, sig unix.Signal) error {
	pid := unix.Getpid()
	return unix.Tgkill(pid, int(tid), sig)
}

// State reads the run state of thread tid from procfs. Not
// signal-safe: it opens and parses a /proc file.
func State(tid uint64) (ThreadState, error) {
	stat, err := procStat(unix.Getpid(), int(tid))
	if err != nil {
		return StateUnknown, err
	}
	return parseStateChar(stat), nil
}

// procStat reads /proc/<pid>/task/<tid>/stat and extracts the state
// character, which sits after the closing paren of the (possibly
// space-containing) comm field — doing this by hand rather than via
// procfs.Proc.Stat, which stats the *process*, not an individual task.
func procStat(pid, tid int) (byte, error) {
	path := "/proc/" + strconv.Itoa(pid) + "/task/" + strconv.Itoa(tid) + "/stat"
	data, err := readFile(path)
	if err != nil {
		return 0, err
	}
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 || idx+2 >= len(data) {
		return 0, errMalformedStat
	}
	return data[idx+2], nil
}

// ThreadList enumerates the live thread ids of the current process by
// reading /proc/self/task via procfs.AllThreads, which stats each
// task directory itself (Proc.PID holds the tid, not the pid, for
// each entry returned). Not signal-safe.
func ThreadList() ([]Info, error) {
	pid := unix.Getpid()
	procs, err := procfs.AllThreads(pid, pid)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(procs))
	for _, p := range procs {
		st, err := procStat(pid, p.PID)
		state := StateUnknown
		if err == nil {
			state = parseStateChar(st)
		}
		out = append(out, Info{TID: uint64(p.PID), State: state})
	}
	return out, nil
}
