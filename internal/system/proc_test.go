package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func writeThreadStat(t *testing.T, root string, pid int, tid int, comm string, utime, stime int64) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid), "task", strconv.Itoa(tid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	line := fmt.Sprintf("%d (%s) S 1 %d %d 0 -1 4194304 1000 0 0 0 %d %d 10 10 20 0 2 0 100", tid, comm, pid, pid, utime, stime)
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProcessTicksSumsThreads(t *testing.T) {
	root := t.TempDir()
	writeThreadStat(t, root, 42, 42, "qemu-system-x86", 100, 50)
	writeThreadStat(t, root, 42, 43, "CPU 0/KVM", 200, 75)
	writeThreadStat(t, root, 42, 44, "worker (vcpu)", 1, 2)

	ticks, ok := NewProcReader(root).ProcessTicks(42)
	if !ok {
		t.Fatal("expected process to be found")
	}
	if ticks.User != 301 {
		t.Errorf("user ticks = %d, want 301", ticks.User)
	}
	if ticks.System != 127 {
		t.Errorf("system ticks = %d, want 127", ticks.System)
	}
}

func TestProcessTicksVanishedProcess(t *testing.T) {
	ticks, ok := NewProcReader(t.TempDir()).ProcessTicks(9999)
	if ok {
		t.Fatal("expected ok=false for missing process")
	}
	if ticks.User != 0 || ticks.System != 0 {
		t.Errorf("expected zero reading, got %+v", ticks)
	}
}

func TestProcessTicksSkipsMalformedThread(t *testing.T) {
	root := t.TempDir()
	writeThreadStat(t, root, 7, 7, "qemu-system-x86", 10, 20)

	dir := filepath.Join(root, "7", "task", "8")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	ticks, ok := NewProcReader(root).ProcessTicks(7)
	if !ok {
		t.Fatal("expected process to be found")
	}
	if ticks.User != 10 || ticks.System != 20 {
		t.Errorf("ticks = %+v, want user=10 system=20", ticks)
	}
}

func TestIOWaitTicks(t *testing.T) {
	tests := []struct {
		name string
		stat string
		want int64
	}{
		{
			name: "aggregate cpu line",
			stat: "cpu  4705 150 1120 1638117 774 0 308 0 0 0\ncpu0 1200 38 280 409529 193 0 77 0 0 0\n",
			want: 774,
		},
		{
			name: "truncated line",
			stat: "cpu 1 2 3\n",
			want: 0,
		},
		{
			name: "no aggregate line",
			stat: "cpu0 1 2 3 4 5 6 7 0 0 0\n",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if err := os.WriteFile(filepath.Join(root, "stat"), []byte(tt.stat), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := NewProcReader(root).IOWaitTicks(); got != tt.want {
				t.Errorf("IOWaitTicks() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIOWaitTicksUnreadable(t *testing.T) {
	if got := NewProcReader(t.TempDir()).IOWaitTicks(); got != 0 {
		t.Errorf("IOWaitTicks() = %d, want 0 when /proc/stat is unreadable", got)
	}
}

func TestClockTickPositive(t *testing.T) {
	if got := ClockTick(); got <= 0 {
		t.Errorf("ClockTick() = %d, want > 0", got)
	}
}
