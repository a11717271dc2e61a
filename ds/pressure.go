package ds

// Pressure is one of the four discrete levels expressing how many free
// big pages a pool or range holds relative to its thresholds.
type Pressure int

const (
	Surplus Pressure = iota
	Comfortable
	Moderate
	Desperate
	numPressureLevels
)

func (p Pressure) String() string {
	switch p {
	case Surplus:
		return "SURPLUS"
	case Comfortable:
		return "COMFORTABLE"
	case Moderate:
		return "MODERATE"
	case Desperate:
		return "DESPERATE"
	default:
		return "UNKNOWN"
	}
}

// PressureBitmap tracks, for each key in [0, n), exactly one of four
// pressure levels at a time: one bitmap per level, with the invariant
// that a key's bit is set in exactly one of the four bitmaps. This is
// used both as a PressureBitmap<PoolID> (per-CPU pool plus the global
// pool) and a PressureBitmap<range index> for the aggregate allocator.
type PressureBitmap struct {
	levels [numPressureLevels]*AtomicBitmap
	n      int
}

func NewPressureBitmap(n int) *PressureBitmap {
	pb := &PressureBitmap{n: n}
	for i := range pb.levels {
		pb.levels[i] = NewAtomicBitmap(n)
	}
	// Every key starts SURPLUS until its first pressure recomputation.
	for i := 0; i < n; i++ {
		pb.levels[Surplus].Set(i)
	}
	return pb
}

// Set moves key to level p, atomically clearing it from whichever
// level it previously held so exactly one bit stays set.
func (pb *PressureBitmap) Set(key int, p Pressure) {
	for lvl := range pb.levels {
		if Pressure(lvl) == p {
			pb.levels[lvl].Set(key)
		} else {
			pb.levels[lvl].Clear(key)
		}
	}
}

// Level returns key's current pressure level, or -1 if none is set
// (which should never happen given Set's invariant).
func (pb *PressureBitmap) Level(key int) Pressure {
	for lvl := range pb.levels {
		if pb.levels[lvl].Test(key) {
			return Pressure(lvl)
		}
	}
	return -1
}

// KeysAt yields every key currently at pressure level p, in ascending
// key order, so callers scanning for a steal victim or a target range
// see candidates in a deterministic order.
func (pb *PressureBitmap) KeysAt(p Pressure) []int {
	var out []int
	pb.levels[p].Each(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}
