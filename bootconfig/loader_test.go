package bootconfig

import (
	"testing"
)

type testStruct struct {
	Global struct {
		Foo         string
		Bar         int
		Baz         float64
		Foo_Bar_Baz string
	}
	Item map[string]*struct {
		Name  string
		Value int
	}
	Device map[string]*VariableConfig
}

func TestLoad(t *testing.T) {
	b := []byte(`
	[global]
	foo = "bar"
	bar = 1337
	baz = 1.337
	foo-bar-baz="foo bar baz"

	[item "A"]
	name = "test A"
	value = 0xA

	[item "B"]
	name = "test B"
	value = 0xB

	[device "hpet"]
		type = timer
		comparators = 3
		counter-width = 64
		stable = true
		route = "2"
		route = "8"

	[device "pit"]
		type = timer
		frequency-hz = 1193182
	`)
	var v testStruct
	if err := LoadConfigBytes(&v, b); err != nil {
		t.Fatal(err)
	}

	if v.Global.Foo != "bar" || v.Global.Bar != 1337 || v.Global.Baz != 1.337 {
		t.Fatalf("bad global section values:\n%+v", v.Global)
	} else if v.Global.Foo_Bar_Baz != `foo bar baz` {
		t.Fatal("Name mapper failed", v.Global.Foo_Bar_Baz)
	}
	if len(v.Item) != 2 {
		t.Fatalf("item count %d", len(v.Item))
	}
	if v.Item[`A`].Value != 0xA || v.Item[`B`].Name != `test B` {
		t.Fatalf("bad item values: %+v", v.Item)
	}

	hpet, ok := v.Device[`hpet`]
	if !ok {
		t.Fatal("missing hpet device section")
	}
	if typ, err := hpet.GetString(`type`); err != nil || typ != `timer` {
		t.Fatalf("type %q err %v", typ, err)
	}
	if n, err := hpet.GetInt(`comparators`); err != nil || n != 3 {
		t.Fatalf("comparators %d err %v", n, err)
	}
	if stable, err := hpet.GetBool(`stable`); err != nil || !stable {
		t.Fatalf("stable %v err %v", stable, err)
	}
	routes, err := hpet.GetStringSlice(`route`)
	if err != nil || len(routes) != 2 || routes[0] != `2` || routes[1] != `8` {
		t.Fatalf("routes %v err %v", routes, err)
	}
}

func TestMapTo(t *testing.T) {
	b := []byte(`
	[global]
	foo = x

	[device "lapic"]
	frequency-hz = 100000000
	per-cpu = true
	name = "lapic-timer"
	`)
	var v testStruct
	if err := LoadConfigBytes(&v, b); err != nil {
		t.Fatal(err)
	}
	var tgt struct {
		Frequency_Hz uint64
		Per_CPU      bool
		Name         string
	}
	if err := v.Device[`lapic`].MapTo(&tgt); err != nil {
		t.Fatal(err)
	}
	if tgt.Frequency_Hz != 100000000 || !tgt.Per_CPU || tgt.Name != `lapic-timer` {
		t.Fatalf("mapped struct: %+v", tgt)
	}
	// non-pointer target must be rejected
	if err := v.Device[`lapic`].MapTo(tgt); err == nil {
		t.Fatal("non-pointer target accepted")
	}
}

func TestTooLarge(t *testing.T) {
	big := make([]byte, maxConfigSize+1)
	if err := LoadConfigBytes(&testStruct{}, big); err != ErrConfigTooLarge {
		t.Fatalf("expected ErrConfigTooLarge, got %v", err)
	}
}
