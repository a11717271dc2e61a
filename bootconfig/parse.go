package bootconfig

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	kb = 1024
	mb = 1024 * kb
	gb = 1024 * mb
)

type multSuff struct {
	mult   uint64
	suffix string
}

var (
	sizeSuffix = []multSuff{
		multSuff{mult: kb, suffix: `KB`},
		multSuff{mult: kb, suffix: `kb`},
		multSuff{mult: kb, suffix: `KiB`},
		multSuff{mult: kb, suffix: `K`},

		multSuff{mult: mb, suffix: `MB`},
		multSuff{mult: mb, suffix: `mb`},
		multSuff{mult: mb, suffix: `MiB`},
		multSuff{mult: mb, suffix: `M`},

		multSuff{mult: gb, suffix: `GB`},
		multSuff{mult: gb, suffix: `gb`},
		multSuff{mult: gb, suffix: `GiB`},
		multSuff{mult: gb, suffix: `G`},
	}
)

// ParseSize parses a byte size, e.g. "2MB", "4KB", "0x200000". The
// string should consist of a number optionally followed by one of the
// suffixes K, KB, KiB, M, MB, MiB, G, GB, GiB. With no suffix the
// string specifies bytes.
func ParseSize(s string) (size uint64, err error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return
	}
	for _, v := range sizeSuffix {
		if strings.HasSuffix(s, v.suffix) {
			var r uint64
			if r, err = ParseUint64(strings.TrimSuffix(s, v.suffix)); err != nil {
				return
			}
			size = r * v.mult
			return
		}
	}
	size, err = ParseUint64(s)
	return
}

// ParseBool attempts to parse the string v into a boolean. The following will
// return true:
//
//   - "true"
//   - "t"
//   - "yes"
//   - "y"
//   - "1"
//
// The following will return false:
//
//   - "false"
//   - "f"
//   - "no"
//   - "n"
//   - "0"
//
// All other values return an error.
func ParseBool(v string) (r bool, err error) {
	v = strings.ToLower(v)
	switch v {
	case `true`:
		fallthrough
	case `t`:
		fallthrough
	case `yes`:
		fallthrough
	case `y`:
		fallthrough
	case `1`:
		r = true
	case `false`:
	case `f`:
	case `0`:
	case `no`:
	case `n`:
	default:
		err = fmt.Errorf("Unknown boolean value")
	}
	return
}

// splitBase strips the optional 0x prefix off a config integer and
// reports the base to parse the remainder in. Boot configs spell
// physical addresses in hex and counts in decimal, so both forms show
// up throughout.
func splitBase(v string) (digits string, base int) {
	if rest, ok := strings.CutPrefix(v, "0x"); ok {
		return rest, 16
	}
	return v, 10
}

// ParseUint64 turns a config integer (decimal, or hex with a 0x
// prefix) into an unsigned 64-bit value.
func ParseUint64(v string) (uint64, error) {
	digits, base := splitBase(v)
	return strconv.ParseUint(digits, base, 64)
}

// ParseInt64 turns a config integer (decimal, or hex with a 0x prefix)
// into a signed 64-bit value.
func ParseInt64(v string) (int64, error) {
	digits, base := splitBase(v)
	return strconv.ParseInt(digits, base, 64)
}
