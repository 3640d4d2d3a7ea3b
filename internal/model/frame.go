package model

// CycleResult is the outcome of one collection cycle: the set of VMs that
// produced a measurement, keyed by VM name. A VM missing from the map had
// no measurable data this cycle (absence is the signal, there is no error
// value).
type CycleResult map[string]UsagePercentages

// VMCPUSample is the stream-frame form of one VM's cycle result.
type VMCPUSample struct {
	VMName    string  `json:"vm_name"`
	UserPct   float64 `json:"user_pct"`
	SystemPct float64 `json:"system_pct"`
	IOWaitPct float64 `json:"iowait_pct"`
}
