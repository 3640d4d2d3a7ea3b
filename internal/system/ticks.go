package system

import (
	"os/exec"
	"strconv"
	"strings"
)

// defaultClockTick matches USER_HZ on every mainstream Linux build.
const defaultClockTick = 100

// ClockTick returns the ticks-per-second rate of the process accounting
// clock (SC_CLK_TCK). Probed once at startup via getconf, falling back to
// the conventional 100 when the probe is unavailable.
func ClockTick() int64 {
	out, err := exec.Command("getconf", "CLK_TCK").Output()
	if err != nil {
		return defaultClockTick
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil || v <= 0 {
		return defaultClockTick
	}
	return v
}
