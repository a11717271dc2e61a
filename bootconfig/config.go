// Package bootconfig loads the kernel's boot-time tunables from an
// INI-style configuration blob handed over by the boot loader (or a
// test harness). There is no filesystem at this point in boot, so the
// loaders accept byte slices only; the embedding environment is
// responsible for getting the bytes into memory.
//
// A typical kernel config looks like:
//
//	[global]
//	Log-Level=INFO
//	Processor-Count=4
//	Big-Page-Size=2MB
//	Small-Page-Size=4KB
//
//	[Memory-Range "low"]
//	Start=0x200000
//	End=0x10200000
//	Kind=USABLE
package bootconfig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sm5ve/crocos/klog"
)

const (
	defaultLogLevel = `INFO`

	defaultBigPageSize   = 2 * mb
	defaultSmallPageSize = 4 * kb

	defaultMaxColorCount       = 16
	defaultCalibrationMinTicks = 100000
	defaultLateToleranceMs     = 5
	defaultEarlyToleranceMs    = 0
	defaultRoutingPolicy       = `greedy`
)

var (
	ErrInvalidLogLevel       = errors.New("Invalid Log Level")
	ErrInvalidPageSize       = errors.New("Page sizes must be powers of two with big a multiple of small")
	ErrInvalidProcessorCount = errors.New("Processor count must be at least 1")
	ErrInvalidRoutingPolicy  = errors.New("Unknown routing policy")
	ErrInvalidMemoryRange    = errors.New("Memory range end must be greater than start")
)

// KernelConfig is the [global] section of the boot config.
type KernelConfig struct {
	Log_Level               string
	Processor_Count         int
	Big_Page_Size           string
	Small_Page_Size         string
	Max_Color_Count         int
	Calibration_Min_Ticks   uint64
	Timer_Late_Tolerance_Ms uint64
	Timer_Early_Tolerance_Ms uint64
	Routing_Policy          string
	Session_UUID            string
}

// MemoryRangeConfig is a [Memory-Range "<name>"] section: a simulated
// firmware memory map entry for harnesses that boot without real
// firmware tables.
type MemoryRangeConfig struct {
	Start string
	End   string
	Kind  string
}

// CrocosConfig is the full parsed boot configuration.
type CrocosConfig struct {
	Global       KernelConfig
	Memory_Range map[string]*MemoryRangeConfig
}

// GetConfig parses and verifies a boot config blob.
func GetConfig(b []byte) (*CrocosConfig, error) {
	var c CrocosConfig
	if err := LoadConfigBytes(&c, b); err != nil {
		return nil, err
	}
	if err := c.Global.Verify(); err != nil {
		return nil, err
	}
	for name, mr := range c.Memory_Range {
		if mr == nil {
			continue
		}
		if err := mr.Verify(); err != nil {
			return nil, fmt.Errorf("memory range %q: %w", name, err)
		}
	}
	return &c, nil
}

// Verify normalizes the global section and fills in defaults, erroring
// on values that cannot describe a bootable system.
func (kc *KernelConfig) Verify() error {
	kc.Log_Level = strings.ToUpper(strings.TrimSpace(kc.Log_Level))
	if err := kc.checkLogLevel(); err != nil {
		return err
	}
	if kc.Processor_Count == 0 {
		kc.Processor_Count = 1
	} else if kc.Processor_Count < 0 {
		return ErrInvalidProcessorCount
	}
	if kc.Big_Page_Size == `` {
		kc.Big_Page_Size = `2MB`
	}
	if kc.Small_Page_Size == `` {
		kc.Small_Page_Size = `4KB`
	}
	big, err := ParseSize(kc.Big_Page_Size)
	if err != nil {
		return err
	}
	small, err := ParseSize(kc.Small_Page_Size)
	if err != nil {
		return err
	}
	if big == 0 || small == 0 || big&(big-1) != 0 || small&(small-1) != 0 || big%small != 0 || big <= small {
		return ErrInvalidPageSize
	}
	if kc.Max_Color_Count == 0 {
		kc.Max_Color_Count = defaultMaxColorCount
	}
	if kc.Calibration_Min_Ticks == 0 {
		kc.Calibration_Min_Ticks = defaultCalibrationMinTicks
	}
	if kc.Timer_Late_Tolerance_Ms == 0 {
		kc.Timer_Late_Tolerance_Ms = defaultLateToleranceMs
	}
	if kc.Routing_Policy == `` {
		kc.Routing_Policy = defaultRoutingPolicy
	}
	switch strings.ToLower(kc.Routing_Policy) {
	case `greedy`:
		kc.Routing_Policy = `greedy`
	default:
		return ErrInvalidRoutingPolicy
	}
	if kc.Session_UUID != `` {
		if _, err := uuid.Parse(kc.Session_UUID); err != nil {
			return fmt.Errorf("Malformed session UUID %v: %v", kc.Session_UUID, err)
		}
	}
	return nil
}

func (kc *KernelConfig) checkLogLevel() error {
	if len(kc.Log_Level) == 0 {
		kc.Log_Level = defaultLogLevel
		return nil
	}
	switch kc.Log_Level {
	case `OFF`:
		fallthrough
	case `DEBUG`:
		fallthrough
	case `INFO`:
		fallthrough
	case `WARN`:
		fallthrough
	case `ERROR`:
		return nil
	}
	return ErrInvalidLogLevel
}

// LogLevel returns the configured log level string.
func (kc *KernelConfig) LogLevel() string {
	return kc.Log_Level
}

// BigPageSize returns the parsed big page size in bytes. Verify must
// have succeeded first.
func (kc *KernelConfig) BigPageSize() uint64 {
	v, _ := ParseSize(kc.Big_Page_Size)
	return v
}

// SmallPageSize returns the parsed small page size in bytes.
func (kc *KernelConfig) SmallPageSize() uint64 {
	v, _ := ParseSize(kc.Small_Page_Size)
	return v
}

func zeroUUID(id uuid.UUID) bool {
	for _, v := range id {
		if v != 0 {
			return false
		}
	}
	return true
}

// SessionUUID returns the UUID pinned by the `Session-UUID` parameter.
// If the UUID is not set, invalid, or all zeroes, ok is false and boot
// generates a fresh one instead.
func (kc *KernelConfig) SessionUUID() (id uuid.UUID, ok bool) {
	if kc.Session_UUID == `` {
		return
	}
	var err error
	if id, err = uuid.Parse(kc.Session_UUID); err == nil {
		ok = true
	}
	if zeroUUID(id) {
		ok = false
	}
	return
}

// GetLogger builds a console logger at the configured level, aimed at
// the given byte sink (the serial console in a real boot).
func (kc *KernelConfig) GetLogger(sink interface{ Write([]byte) (int, error) }) (l *klog.Logger, err error) {
	var ll klog.Level
	if ll, err = klog.LevelFromString(kc.Log_Level); err != nil {
		return
	}
	if sink == nil {
		l = klog.NewDiscardLogger()
	} else {
		l = klog.New(sink)
	}
	err = l.SetLevel(ll)
	return
}

// Verify checks a memory range section for basic sanity.
func (mr *MemoryRangeConfig) Verify() error {
	start, err := ParseUint64(mr.Start)
	if err != nil {
		return err
	}
	end, err := ParseUint64(mr.End)
	if err != nil {
		return err
	}
	if end <= start {
		return ErrInvalidMemoryRange
	}
	switch strings.ToUpper(strings.TrimSpace(mr.Kind)) {
	case ``:
		mr.Kind = `USABLE`
	case `USABLE`, `RESERVED`, `ACPI_RECLAIMABLE`, `ACPI_NVS`, `BAD`, `UNKNOWN`:
		mr.Kind = strings.ToUpper(strings.TrimSpace(mr.Kind))
	default:
		return fmt.Errorf("unknown memory range kind %q", mr.Kind)
	}
	return nil
}

// Bounds returns the parsed [start, end) of the range. Verify must have
// succeeded first.
func (mr *MemoryRangeConfig) Bounds() (start, end uint64) {
	start, _ = ParseUint64(mr.Start)
	end, _ = ParseUint64(mr.End)
	return
}
