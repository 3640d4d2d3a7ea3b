package system

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcessTicks is the cumulative CPU accounting of one process summed
// across all of its live threads, in clock ticks.
type ProcessTicks struct {
	User   int64
	System int64
}

// ProcReader reads CPU accounting counters from a procfs mount. The root
// is configurable so tests can point it at a fabricated tree.
type ProcReader struct {
	root string
}

func NewProcReader(root string) *ProcReader {
	if root == "" {
		root = "/proc"
	}
	return &ProcReader{root: root}
}

// ProcessTicks sums utime and stime over every thread of pid, enumerated
// fresh on each call. A thread that vanishes between enumeration and read
// is skipped. If the process itself no longer exists, it returns a zero
// reading and ok=false; callers must treat that as "unknown", not as zero
// usage.
func (r *ProcReader) ProcessTicks(pid int) (ProcessTicks, bool) {
	taskDir := filepath.Join(r.root, strconv.Itoa(pid), "task")
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return ProcessTicks{}, false
	}

	var total ProcessTicks
	for _, entry := range entries {
		raw, readErr := os.ReadFile(filepath.Join(taskDir, entry.Name(), "stat"))
		if readErr != nil {
			// thread exited between enumeration and read
			continue
		}
		utime, stime, parseErr := parseStatTicks(raw)
		if parseErr != nil {
			continue
		}
		total.User += utime
		total.System += stime
	}
	return total, true
}

// IOWaitTicks returns the host-wide cumulative iowait tick counter from
// the aggregate cpu line of /proc/stat. This is a single global counter
// used as a best-effort proxy for I/O-wait attributable to the VM under
// measurement during its narrow window; it is an approximation, not a
// per-VM figure. Unreadable counter degrades to 0.
func (r *ProcReader) IOWaitTicks() int64 {
	f, err := os.Open(filepath.Join(r.root, "stat"))
	if err != nil {
		return 0
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			return 0
		}
		v, parseErr := strconv.ParseInt(fields[5], 10, 64)
		if parseErr != nil {
			return 0
		}
		return v
	}
	return 0
}

// parseStatTicks extracts utime and stime from a /proc/<pid>/task/<tid>/stat
// line. The comm field can contain spaces and parentheses, so fields are
// counted from the last ')': state is field 3 of the full line, utime and
// stime are fields 14 and 15.
func parseStatTicks(raw []byte) (int64, int64, error) {
	idx := bytes.LastIndexByte(raw, ')')
	if idx < 0 || idx+2 > len(raw) {
		return 0, 0, strconv.ErrSyntax
	}
	rest := strings.Fields(string(raw[idx+1:]))
	// rest[0] is the state field; utime and stime are rest[11] and rest[12].
	if len(rest) < 13 {
		return 0, 0, strconv.ErrSyntax
	}
	utime, err := strconv.ParseInt(rest[11], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	stime, err := strconv.ParseInt(rest[12], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return utime, stime, nil
}
