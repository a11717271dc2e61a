// Package hal holds the thin adapters between hardware registers and
// the kernel's core contracts: the IOAPIC, LAPIC and legacy IRQ
// interrupt domains, the HPET, LAPIC-timer and PIT clock/event sources,
// and the IA32_APIC_BASE MSR layout.
//
// Register windows are modeled as in-memory register blocks accessed
// through the same indirect-register and bit layouts the hardware
// specifies, so the adapter logic (redirection-entry encoding,
// comparator arming, EOI re-evaluation) is exactly what a bare-metal
// build would program through a mapped MMIO window; the embedding boot
// or test harness supplies the backing storage in place of a
// non-cacheable virtual mapping.
package hal
