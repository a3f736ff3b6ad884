package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Jon-Bright/pllctl/zynq"
)

func TestParseVector(t *testing.T) {
	tests := []struct {
		in      string
		want    vector
		wantErr bool
	}{
		{"40:2", vector{40, 2}, false},
		{"0x30:0x3", vector{48, 3}, false},
		{"127:63", vector{127, 63}, false},
		{"128:2", vector{}, true},
		{"40:64", vector{}, true},
		{"40:0", vector{}, true},
		{"40", vector{}, true},
		{"40:2:1", vector{}, true},
		{"-1:2", vector{}, true},
		{"a:b", vector{}, true},
	}

	for _, test := range tests {
		got, err := parseVector(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("parseVector(%s) error got: %v, want error: %v", test.in, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("parseVector(%s) got: %v, want: %v", test.in, got, test.want)
		}
	}
}

func TestParseVectorsDefault(t *testing.T) {
	vs, err := parseVectors(nil)
	if err != nil {
		t.Fatalf("parseVectors failed: %v", err)
	}
	if len(vs) != 8 {
		t.Fatalf("Wrong number of default vectors, got: %d, want: 8", len(vs))
	}
	if vs[0] != (vector{40, 2}) || vs[0].MHz() != 660 {
		t.Errorf("First default vector got: %v (%d MHz), want: 40:2 (660 MHz)", vs[0], vs[0].MHz())
	}

	vs, err = parseVectors([]string{"20:12", "2:2"})
	if err != nil {
		t.Fatalf("parseVectors failed: %v", err)
	}
	if len(vs) != 2 || vs[0] != (vector{20, 12}) || vs[1] != (vector{2, 2}) {
		t.Errorf("parseVectors got: %v, want: [20:12 2:2]", vs)
	}
}

func TestLfsrDelay(t *testing.T) {
	tests := []struct {
		v    uint32
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{0xfffffffe, time.Second},
		{0xffffffff, 2 * time.Second},
		{0x10000001, 2 * time.Second},
	}

	for _, test := range tests {
		if got := lfsrDelay(test.v); got != test.want {
			t.Errorf("lfsrDelay(%08X) got: %v, want: %v", test.v, got, test.want)
		}
	}
}

func TestParseDelay(t *testing.T) {
	sim := zynq.NewSimMemory()
	sim.Set(zynq.LFSR_COUNTER, 0x12345677)

	d, err := parseDelay("lfsr", sim)
	if err != nil {
		t.Fatalf("parseDelay(lfsr) failed: %v", err)
	}
	got, err := d()
	if err != nil || got != 2*time.Second {
		t.Errorf("lfsr delay got: %v %v, want: 2s", got, err)
	}

	d, err = parseDelay("250ms", sim)
	if err != nil {
		t.Fatalf("parseDelay(250ms) failed: %v", err)
	}
	if got, _ = d(); got != 250*time.Millisecond {
		t.Errorf("Fixed delay got: %v, want: 250ms", got)
	}

	for _, s := range []string{"soon", "-1s"} {
		if _, err = parseDelay(s, sim); err == nil {
			t.Errorf("parseDelay(%s) succeeded", s)
		}
	}

	d, err = parseDelay("lfsr", zynq.NewDevMem("/nonexistent/mem"))
	if err != nil {
		t.Fatalf("parseDelay(lfsr) failed: %v", err)
	}
	var ae *zynq.AccessError
	if _, err = d(); !errors.As(err, &ae) {
		t.Errorf("LFSR read error got: %v, want an AccessError", err)
	}
}

func TestParseOptions(t *testing.T) {
	o, args, err := parseOptions([]string{"-sim", "40:2", "-lockbit", "3", "-polls=10", "-timeout", "1s", "2:2"})
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if !o.sim || o.dump || o.lockBit != 3 || o.maxPolls != 10 || o.timeout != time.Second || o.delay != "lfsr" || o.mem != zynq.MEM_FILE {
		t.Errorf("Wrong options: %+v", o)
	}
	if len(args) != 2 || args[0] != "40:2" || args[1] != "2:2" {
		t.Errorf("Wrong remaining args: %v", args)
	}

	for _, bad := range [][]string{
		{"-lockbit", "32"},
		{"-polls", "0"},
		{"-timeout", "never"},
	} {
		if _, _, err = parseOptions(bad); err == nil {
			t.Errorf("parseOptions(%v) succeeded", bad)
		}
	}
}

func TestDefaultPollsFitTimeout(t *testing.T) {
	o, _, err := parseOptions(nil)
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if o.timeout != defaultTimeout || o.maxPolls != zynq.DEFAULT_MAX_POLLS {
		t.Errorf("Wrong defaults: %+v", o)
	}
	// Every wait is at most the backoff cap, so this bounds the whole lock wait.
	worst := time.Duration(o.maxPolls) * zynq.DEFAULT_POLL_MAX
	if worst >= o.timeout {
		t.Errorf("Lock wait can take %v, longer than the %v timeout", worst, o.timeout)
	}
}

func TestRunSim(t *testing.T) {
	var b bytes.Buffer
	err := run([]string{"-sim", "-dump", "-delay", "0"}, &b)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	out := b.String()
	for i, v := range defaultVectors {
		want := fmt.Sprintf("Test %d with PLL divider %d and clock divider %d: %d MHz", i+1, v.fdiv, v.cdiv, v.MHz())
		if !strings.Contains(out, want) {
			t.Errorf("Output missing '%s'", want)
		}
	}
	if !strings.Contains(out, "ARM_CLK_CTRL 1F000200 (DIVISOR 2), 792 MHz") {
		t.Errorf("Output missing final state, got:\n%s", out)
	}
	if strings.Contains(out, "Waiting") {
		t.Errorf("Waited despite -delay 0")
	}
}

func TestRunErrors(t *testing.T) {
	var b bytes.Buffer
	err := run([]string{"-mem", "/nonexistent/mem", "-delay", "0", "40:2"}, &b)
	var ae *zynq.AccessError
	if !errors.As(err, &ae) {
		t.Errorf("Missing device got: %v, want an AccessError", err)
	}

	// The simulated PLL needs more status reads than this to lock.
	err = run([]string{"-sim", "-polls", "2", "-delay", "0", "40:2"}, &b)
	if !errors.Is(err, zynq.ErrLockTimeout) {
		t.Errorf("Too few polls got: %v, want: %v", err, zynq.ErrLockTimeout)
	}

	err = run([]string{"-sim", "-lockbit", "7", "-delay", "0", "40:2"}, &b)
	if err != nil {
		t.Errorf("Lock on bit 7 got: %v, want success", err)
	}

	err = run([]string{"-sim", "-delay", "0", "40:0"}, &b)
	if err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Errorf("Bad vector got: %v, want a usage error", err)
	}
}
