package klog

import (
	"bytes"
	"strings"
	"testing"
)

func newLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&buf), &buf
}

func TestNew(t *testing.T) {
	lgr, buf := newLogger()
	if err := lgr.Criticalf("test: %d", 99); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("nothing written")
	}
}

func TestLevels(t *testing.T) {
	lgr, buf := newLogger()
	if err := lgr.SetLevel(ERROR); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Infof("should not appear: %d", 1); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("INFO leaked through ERROR level: %q", buf.String())
	}
	if err := lgr.Errorf("should appear: %d", 2); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("ERROR suppressed at ERROR level")
	}
}

func TestLevelFromString(t *testing.T) {
	cases := []struct {
		s   string
		lvl Level
		bad bool
	}{
		{s: `debug`, lvl: DEBUG},
		{s: `INFO`, lvl: INFO},
		{s: `Warn`, lvl: WARN},
		{s: `error`, lvl: ERROR},
		{s: `CRITICAL`, lvl: CRITICAL},
		{s: `fatal`, lvl: FATAL},
		{s: `off`, lvl: OFF},
		{s: `chatty`, bad: true},
	}
	for _, c := range cases {
		lvl, err := LevelFromString(c.s)
		if c.bad {
			if err == nil {
				t.Fatalf("%q accepted", c.s)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q rejected: %v", c.s, err)
		}
		if lvl != c.lvl {
			t.Fatalf("%q parsed to %v, wanted %v", c.s, lvl, c.lvl)
		}
	}
}

func TestRawMode(t *testing.T) {
	lgr, buf := newLogger()
	lgr.EnableRawMode()
	if err := lgr.Warnf("raw test: %d", 99); err != nil {
		t.Fatal(err)
	}
	if s := buf.String(); strings.Contains(s, "<") {
		t.Fatal("raw contains RFC header", s)
	}
}

func TestStructured(t *testing.T) {
	lgr, buf := newLogger()
	if err := lgr.Info("routing built", KV("vectors", 224), KV("domains", 5)); err != nil {
		t.Fatal(err)
	}
	s := buf.String()
	if !strings.Contains(s, `vectors="224"`) {
		t.Fatalf("missing structured param: %q", s)
	}
}

func TestWith(t *testing.T) {
	lgr, buf := newLogger()
	cpu := lgr.With(KV("cpu", 2))
	if err := cpu.Info("pool refill", KV("pool", 1)); err != nil {
		t.Fatal(err)
	}
	s := buf.String()
	if !strings.Contains(s, `cpu="2"`) || !strings.Contains(s, `pool="1"`) {
		t.Fatalf("missing persistent or call KV: %q", s)
	}

	// nested derivation accumulates context
	buf.Reset()
	sub := cpu.With(KV("subsys", "mem"))
	if err := sub.Warn("pressure"); err != nil {
		t.Fatal(err)
	}
	s = buf.String()
	if !strings.Contains(s, `cpu="2"`) || !strings.Contains(s, `subsys="mem"`) {
		t.Fatalf("nested context lost: %q", s)
	}

	// printf-flavor records carry the context too
	buf.Reset()
	if err := sub.Errorf("steal failed on page %d", 7); err != nil {
		t.Fatal(err)
	}
	if s = buf.String(); !strings.Contains(s, `cpu="2"`) {
		t.Fatalf("printf record lost context: %q", s)
	}

	// derived loggers share level control with the parent
	if err := lgr.SetLevel(ERROR); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := sub.Info("suppressed"); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("derived logger ignored parent level: %q", buf.String())
	}
	// and the parent never inherits child context
	if len(lgr.Context()) != 0 {
		t.Fatalf("parent context polluted: %v", lgr.Context())
	}
}

func TestKVFormatting(t *testing.T) {
	if p := KV("n", 42); p.Value != "42" {
		t.Fatalf("int: %q", p.Value)
	}
	if p := KV("ok", true); p.Value != "true" {
		t.Fatalf("bool: %q", p.Value)
	}
	if p := KVHex("vector", 0x2f); p.Value != "0x2f" {
		t.Fatalf("hex: %q", p.Value)
	}
	if p := KVErr(ErrInvalidLevel); p.Name != "error" || p.Value != ErrInvalidLevel.Error() {
		t.Fatalf("err: %q=%q", p.Name, p.Value)
	}
}

func TestFatalAbort(t *testing.T) {
	lgr, _ := newLogger()
	var aborted string
	lgr.SetAbort(func(msg string) { aborted = msg })
	lgr.Fatalf("assertion failed: %s", "bad vector")
	if aborted != "assertion failed: bad vector" {
		t.Fatalf("abort primitive saw %q", aborted)
	}
}

func TestDeleteWriter(t *testing.T) {
	lgr, buf := newLogger()
	var second bytes.Buffer
	if err := lgr.AddWriter(&second); err != nil {
		t.Fatal(err)
	}
	if err := lgr.DeleteWriter(buf); err != nil {
		t.Fatal(err)
	}
	if err := lgr.Errorf("only to second"); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatal("deleted writer still receiving")
	}
	if second.Len() == 0 {
		t.Fatal("remaining writer got nothing")
	}
}
