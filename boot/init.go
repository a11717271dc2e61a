package boot

import (
	"sync/atomic"

	"github.com/sm5ve/crocos/klog"
	"github.com/sm5ve/crocos/timing"
)

// ComponentFlag bits describe how an init component runs.
type ComponentFlag uint8

const (
	CFNone ComponentFlag = 0
	// CFRequired aborts boot when the initializer fails.
	CFRequired ComponentFlag = 1 << 0
	// CFPerCPU runs the component on the bootstrap processor and again
	// on every AP.
	CFPerCPU ComponentFlag = 1 << 1
	// CFPhaseMarker is a log-only milestone, no initializer.
	CFPhaseMarker ComponentFlag = 1 << 2
	// CFAPIDAvailable means APs know their processor id by the time
	// this component runs, so log badges can include it.
	CFAPIDAvailable ComponentFlag = 1 << 3
)

// LoggingImportance gates how loud a component's progress is during
// boot.
type LoggingImportance uint8

const (
	ImportanceDebug LoggingImportance = iota
	ImportanceImportant
	ImportanceCritical
	ImportanceError
)

// Initializer runs one component's setup, reporting success.
type Initializer func() bool

// InitComponent is one entry in the ordered boot table.
type InitComponent struct {
	Name       string
	Bootstrap  Initializer
	AP         Initializer
	Flags      ComponentFlag
	Importance LoggingImportance
}

// InitRegistry holds the ordered component table plus the completion
// flags APs spin on while the bootstrap processor works through
// bootstrap-only components.
type InitRegistry struct {
	components []InitComponent
	complete   []atomic.Bool

	lgr *klog.Logger
}

func NewInitRegistry(lgr *klog.Logger) *InitRegistry {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	return &InitRegistry{lgr: lgr}
}

// Register appends a component; boot order is registration order.
func (r *InitRegistry) Register(c InitComponent) {
	r.components = append(r.components, c)
}

func (r *InitRegistry) resetComponentStates() {
	r.complete = make([]atomic.Bool, len(r.components))
}

func shouldPrintComponent(c InitComponent, min LoggingImportance) bool {
	if min == ImportanceDebug {
		return true
	}
	if c.Importance == ImportanceDebug {
		return false
	}
	return c.Importance >= min
}

func shouldPrintError(c InitComponent, min LoggingImportance) bool {
	if min == ImportanceDebug {
		return true
	}
	return c.Importance != ImportanceDebug
}

func (r *InitRegistry) apBadge(c InitComponent, cpu int) string {
	if c.Flags&CFAPIDAvailable != 0 {
		return "AP " + itoa(cpu)
	}
	return "AP ?"
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := v < 0
	if neg {
		v = -v
	}
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// KInit walks the component table. The bootstrap processor runs every
// component; an AP runs only the per-CPU ones, spinning on the
// completion flag of each bootstrap-only component until the bootstrap
// processor has finished it.
func (r *InitRegistry) KInit(bootstrap bool, cpu int, min LoggingImportance, logBootstrapOnly bool) {
	if bootstrap {
		r.resetComponentStates()
	}
	for i := range r.components {
		c := r.components[i]
		if c.Flags&CFPhaseMarker != 0 {
			if shouldPrintComponent(c, min) {
				if bootstrap {
					r.lgr.Infof("[BSP Phase] %s", c.Name)
				} else if !logBootstrapOnly {
					r.lgr.Infof("[%s Phase] %s", r.apBadge(c, cpu), c.Name)
				}
			}
			continue
		}
		if c.Flags&CFPerCPU != 0 {
			init := c.Bootstrap
			badge := "BSP"
			if !bootstrap {
				init = c.AP
				badge = r.apBadge(c, cpu)
			}
			if shouldPrintComponent(c, min) {
				r.lgr.Infof("[%s] %s", badge, c.Name)
			}
			if init != nil && !init() {
				if shouldPrintError(c, min) {
					r.lgr.Errorf("Failed to initialize %s", c.Name)
				}
				if c.Flags&CFRequired != 0 {
					r.lgr.Fatalf("Failed to initialize required component %s", c.Name)
				}
			}
			continue
		}
		if bootstrap {
			if shouldPrintComponent(c, min) {
				r.lgr.Infof("[BSP] %s", c.Name)
			}
			if c.Bootstrap != nil && !c.Bootstrap() {
				if shouldPrintError(c, min) {
					r.lgr.Errorf("Failed to initialize %s", c.Name)
				}
				if c.Flags&CFRequired != 0 {
					r.lgr.Fatalf("Failed to initialize required component %s", c.Name)
				}
			}
			r.complete[i].Store(true)
		} else {
			for !r.complete[i].Load() {
				timing.Pause()
			}
		}
	}
}
