package bootconfig

import (
	"testing"
)

func TestGetConfig(t *testing.T) {
	b := []byte(`
	[global]
	log-level = DEBUG
	processor-count = 4
	big-page-size = 2MB
	small-page-size = 4KB
	max-color-count = 8
	calibration-min-ticks = 50000
	timer-late-tolerance-ms = 10
	routing-policy = greedy

	[memory-range "low"]
	start = 0x200000
	end = 0x10200000
	kind = USABLE

	[memory-range "acpi"]
	start = 0x10200000
	end = 0x10300000
	kind = ACPI_RECLAIMABLE
	`)
	c, err := GetConfig(b)
	if err != nil {
		t.Fatal(err)
	}
	if c.Global.LogLevel() != `DEBUG` {
		t.Fatalf("log level %q", c.Global.LogLevel())
	}
	if c.Global.Processor_Count != 4 {
		t.Fatalf("processor count %d", c.Global.Processor_Count)
	}
	if c.Global.BigPageSize() != 2*1024*1024 || c.Global.SmallPageSize() != 4*1024 {
		t.Fatalf("page sizes %d/%d", c.Global.BigPageSize(), c.Global.SmallPageSize())
	}
	if c.Global.Calibration_Min_Ticks != 50000 {
		t.Fatalf("calibration min ticks %d", c.Global.Calibration_Min_Ticks)
	}
	mr, ok := c.Memory_Range[`low`]
	if !ok {
		t.Fatal("missing low range")
	}
	start, end := mr.Bounds()
	if start != 0x200000 || end != 0x10200000 {
		t.Fatalf("low range bounds 0x%x 0x%x", start, end)
	}
	if c.Memory_Range[`acpi`].Kind != `ACPI_RECLAIMABLE` {
		t.Fatalf("acpi kind %q", c.Memory_Range[`acpi`].Kind)
	}
}

func TestDefaults(t *testing.T) {
	c, err := GetConfig([]byte("[global]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Global.LogLevel() != defaultLogLevel {
		t.Fatalf("default log level %q", c.Global.LogLevel())
	}
	if c.Global.Processor_Count != 1 {
		t.Fatalf("default processor count %d", c.Global.Processor_Count)
	}
	if c.Global.BigPageSize() != defaultBigPageSize || c.Global.SmallPageSize() != defaultSmallPageSize {
		t.Fatalf("default page sizes %d/%d", c.Global.BigPageSize(), c.Global.SmallPageSize())
	}
	if c.Global.Routing_Policy != `greedy` {
		t.Fatalf("default routing policy %q", c.Global.Routing_Policy)
	}
	if c.Global.Timer_Late_Tolerance_Ms != defaultLateToleranceMs {
		t.Fatalf("default late tolerance %d", c.Global.Timer_Late_Tolerance_Ms)
	}
}

func TestBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{name: `bad log level`, blob: "[global]\nlog-level=CHATTY\n"},
		{name: `big not multiple of small`, blob: "[global]\nbig-page-size=3MB\nsmall-page-size=4KB\n"},
		{name: `big below small`, blob: "[global]\nbig-page-size=4KB\nsmall-page-size=2MB\n"},
		{name: `bad routing policy`, blob: "[global]\nrouting-policy=random\n"},
		{name: `bad uuid`, blob: "[global]\nsession-uuid=not-a-uuid\n"},
		{name: `inverted range`, blob: "[global]\n[memory-range \"x\"]\nstart=0x2000\nend=0x1000\n"},
		{name: `bad range kind`, blob: "[global]\n[memory-range \"x\"]\nstart=0x1000\nend=0x2000\nkind=SWAMP\n"},
	}
	for _, c := range cases {
		if _, err := GetConfig([]byte(c.blob)); err == nil {
			t.Fatalf("%s: accepted", c.name)
		}
	}
}

func TestSessionUUID(t *testing.T) {
	c, err := GetConfig([]byte("[global]\nsession-uuid=a3a2e6a0-7d8a-4f6b-9b6e-0a4c5d1e2f30\n"))
	if err != nil {
		t.Fatal(err)
	}
	id, ok := c.Global.SessionUUID()
	if !ok {
		t.Fatal("uuid not ok")
	}
	if id.String() != `a3a2e6a0-7d8a-4f6b-9b6e-0a4c5d1e2f30` {
		t.Fatalf("uuid %v", id)
	}
	// all-zero UUID is treated as unset
	c2, err := GetConfig([]byte("[global]\nsession-uuid=00000000-0000-0000-0000-000000000000\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c2.Global.SessionUUID(); ok {
		t.Fatal("zero uuid accepted")
	}
}

func TestGetLogger(t *testing.T) {
	c, err := GetConfig([]byte("[global]\nlog-level=WARN\n"))
	if err != nil {
		t.Fatal(err)
	}
	lgr, err := c.Global.GetLogger(nil)
	if err != nil {
		t.Fatal(err)
	}
	if lgr.GetLevel().String() != `WARN` {
		t.Fatalf("logger level %v", lgr.GetLevel())
	}
}
