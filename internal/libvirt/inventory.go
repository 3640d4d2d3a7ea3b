package libvirt

import (
	"context"
	"fmt"
	"log/slog"

	golibvirt "github.com/digitalocean/go-libvirt"

	"kvirt-exporter/internal/model"
	"kvirt-exporter/internal/system"
)

// Inventory enumerates the running VMs on this host and resolves each to
// its vCPU count (via libvirt) and backing QEMU PID (via procfs). It holds
// no per-VM state: every Snapshot rebuilds descriptors from scratch.
type Inventory struct {
	conn     *ConnManager
	resolver *system.QemuPIDResolver
	logger   *slog.Logger
}

func NewInventory(conn *ConnManager, resolver *system.QemuPIDResolver, logger *slog.Logger) *Inventory {
	return &Inventory{conn: conn, resolver: resolver, logger: logger}
}

// Snapshot lists running domains and resolves each descriptor. A failure
// to list is a cycle-level error; a failure to resolve one VM's vCPU count
// or PID leaves the corresponding field zero and the VM is skipped by the
// sampler.
func (i *Inventory) Snapshot(ctx context.Context) ([]model.VMDescriptor, error) {
	client, err := i.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	domains, _, err := client.ConnectListAllDomains(1, golibvirt.ConnectListDomainsActive)
	if err != nil {
		return nil, fmt.Errorf("ConnectListAllDomains: %w", err)
	}

	out := make([]model.VMDescriptor, 0, len(domains))
	for _, dom := range domains {
		desc := model.VMDescriptor{
			Name: dom.Name,
			UUID: uuidToString(dom.UUID),
		}

		_, _, _, vcpus, _, infoErr := client.DomainGetInfo(dom)
		if infoErr != nil {
			i.logger.Warn("vcpu count unavailable", "vm", dom.Name, "error", infoErr)
		} else {
			desc.VCPUCount = uint(vcpus)
		}

		desc.PID = i.resolver.Resolve(dom.Name)
		if desc.PID == 0 {
			i.logger.Warn("qemu process not found", "vm", dom.Name)
		}

		out = append(out, desc)
	}
	return out, nil
}

func uuidToString(u golibvirt.UUID) string {
	if len(u) != 16 {
		return ""
	}
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		uint32(u[0])<<24|uint32(u[1])<<16|uint32(u[2])<<8|uint32(u[3]),
		uint16(u[4])<<8|uint16(u[5]),
		uint16(u[6])<<8|uint16(u[7]),
		uint16(u[8])<<8|uint16(u[9]),
		uint64(u[10])<<40|uint64(u[11])<<32|uint64(u[12])<<24|uint64(u[13])<<16|uint64(u[14])<<8|uint64(u[15]),
	)
}
