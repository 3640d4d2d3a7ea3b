package system

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// QemuPIDResolver locates the QEMU process backing a named VM by scanning
// process command lines under a procfs root. Resolution runs fresh on
// every call: a restarted VM gets a new PID and must never be served a
// cached one.
type QemuPIDResolver struct {
	root string
}

func NewQemuPIDResolver(root string) *QemuPIDResolver {
	if root == "" {
		root = "/proc"
	}
	return &QemuPIDResolver{root: root}
}

// Resolve returns the PID of the qemu process whose command line names the
// given guest, or 0 when no such process exists.
func (r *QemuPIDResolver) Resolve(name string) int {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, convErr := strconv.Atoi(entry.Name())
		if convErr != nil {
			continue
		}
		raw, readErr := os.ReadFile(filepath.Join(r.root, entry.Name(), "cmdline"))
		if readErr != nil {
			continue
		}
		args := splitCmdline(raw)
		if matchesQemuGuest(args, name) {
			return pid
		}
	}
	return 0
}

func splitCmdline(raw []byte) []string {
	parts := bytes.Split(raw, []byte{0})
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			args = append(args, string(p))
		}
	}
	return args
}

// matchesQemuGuest accepts both the "-name guest=<vm>,..." form libvirt
// uses and a bare "-name <vm>" argument.
func matchesQemuGuest(args []string, name string) bool {
	if len(args) == 0 || !strings.Contains(filepath.Base(args[0]), "qemu") {
		return false
	}
	for i, arg := range args {
		if arg != "-name" || i+1 >= len(args) {
			continue
		}
		value := args[i+1]
		if value == name {
			return true
		}
		for _, part := range strings.Split(value, ",") {
			if part == "guest="+name {
				return true
			}
		}
	}
	return false
}
