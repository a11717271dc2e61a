package klog

import (
	"fmt"
	"strconv"

	"github.com/crewjam/rfc5424"
)

// KV builds one structured-data parameter. Kernel log values are
// mostly addresses, counters, and subsystem objects, so the common
// cases skip the reflection-driven formatter: strings pass through,
// errors contribute their message, Stringers (PhysAddr, PageRef,
// FrequencyData) print themselves, and plain ints and bools format
// directly.
func KV(name string, value interface{}) (r rfc5424.SDParam) {
	r.Name = name
	switch v := value.(type) {
	case string:
		r.Value = v
	case error:
		r.Value = v.Error()
	case fmt.Stringer:
		r.Value = v.String()
	case int:
		r.Value = strconv.Itoa(v)
	case bool:
		r.Value = strconv.FormatBool(v)
	default:
		r.Value = fmt.Sprintf("%v", value)
	}
	return
}

// KVHex formats an integer parameter in hex, for vector numbers and
// raw register values.
func KVHex(name string, value uint64) rfc5424.SDParam {
	return rfc5424.SDParam{Name: name, Value: "0x" + strconv.FormatUint(value, 16)}
}

func KVErr(err error) rfc5424.SDParam {
	return KV("error", err)
}
