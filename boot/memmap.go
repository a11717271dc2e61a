// Package boot sequences the kernel's bring-up: the firmware memory
// map, the ordered init-component registry run by the bootstrap
// processor and echoed by each AP, and the Kernel facade tying the
// interrupt, allocator, and timing subsystems together behind the
// public API the rest of the kernel calls.
package boot

import (
	"fmt"
	"strings"

	"github.com/sm5ve/crocos/addr"
	"github.com/sm5ve/crocos/bootconfig"
	"github.com/sm5ve/crocos/mem"
)

// Kind classifies a firmware memory map entry.
type Kind int

const (
	Usable Kind = iota
	Reserved
	ACPIReclaimable
	ACPINVS
	Bad
	Unknown
)

func (k Kind) String() string {
	switch k {
	case Usable:
		return "USABLE"
	case Reserved:
		return "RESERVED"
	case ACPIReclaimable:
		return "ACPI_RECLAIMABLE"
	case ACPINVS:
		return "ACPI_NVS"
	case Bad:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

// KindFromString parses the config spelling of a memory kind.
func KindFromString(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USABLE":
		return Usable, nil
	case "RESERVED":
		return Reserved, nil
	case "ACPI_RECLAIMABLE":
		return ACPIReclaimable, nil
	case "ACPI_NVS":
		return ACPINVS, nil
	case "BAD":
		return Bad, nil
	case "UNKNOWN":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown memory kind %q", s)
}

// MemoryMapEntry is one firmware memory map record.
type MemoryMapEntry struct {
	Range addr.PhysRange
	Kind  Kind
}

// MemoryMapFromConfig converts the boot config's memory-range sections
// into a memory map, sorted by start address.
func MemoryMapFromConfig(cfg *bootconfig.CrocosConfig) ([]MemoryMapEntry, error) {
	var entries []MemoryMapEntry
	for name, mr := range cfg.Memory_Range {
		if mr == nil {
			continue
		}
		kind, err := KindFromString(mr.Kind)
		if err != nil {
			return nil, fmt.Errorf("memory range %q: %w", name, err)
		}
		start, end := mr.Bounds()
		entries = append(entries, MemoryMapEntry{
			Range: addr.PhysRange{Start: addr.PhysAddr(start), End: addr.PhysAddr(end)},
			Kind:  kind,
		})
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Range.Start < entries[j-1].Range.Start; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	return entries, nil
}

// allocatorSeedThreshold bounds the usable ranges worth a range
// allocator: a range must be strictly larger than two big pages to
// hold both metadata and payload.
const allocatorSeedThreshold = 2 * mem.BigPageSize

// UsableRanges filters the memory map down to the ranges the page
// allocator will manage.
func UsableRanges(entries []MemoryMapEntry) []addr.PhysRange {
	var out []addr.PhysRange
	for _, e := range entries {
		if e.Kind != Usable {
			continue
		}
		if e.Range.Size() <= allocatorSeedThreshold {
			continue
		}
		out = append(out, e.Range)
	}
	return out
}
