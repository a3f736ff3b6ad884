package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Jon-Bright/pllctl/zynq"
)

// vector is one test configuration: a PLL feedback divider and a CPU clock
// divider.
type vector struct {
	fdiv uint
	cdiv uint
}

func (v vector) String() string {
	return fmt.Sprintf("%d:%d", v.fdiv, v.cdiv)
}

func (v vector) MHz() uint {
	return zynq.Frequency(v.fdiv, v.cdiv)
}

// Built-in test set, run when no vectors are given.
var defaultVectors = []vector{
	{40, 2},
	{44, 2},
	{20, 12},
	{48, 3},
	{2, 2},
	{34, 20},
	{18, 36},
	{48, 2},
}

func parseDivider(name, s string, max uint) (uint, error) {
	d, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("couldn't parse %s '%s': %v", name, s, err)
	}
	if d > uint64(max) {
		return 0, fmt.Errorf("%s %d doesn't fit, max %d", name, d, max)
	}
	return uint(d), nil
}

// parseVector parses FDIV:CDIV. Either may be decimal or 0x-prefixed hex.
func parseVector(s string) (vector, error) {
	t := strings.SplitN(s, ":", 2)
	if len(t) != 2 {
		return vector{}, fmt.Errorf("'%s' isn't FDIV:CDIV", s)
	}
	fdiv, err := parseDivider("PLL divider", t[0], zynq.PLL_CTRL_FDIV_MAX)
	if err != nil {
		return vector{}, err
	}
	cdiv, err := parseDivider("clock divider", t[1], zynq.CLK_CTRL_DIVISOR_MAX)
	if err != nil {
		return vector{}, err
	}
	if cdiv == 0 {
		return vector{}, fmt.Errorf("clock divider in '%s' must not be 0", s)
	}
	return vector{fdiv, cdiv}, nil
}

// parseVectors parses all arguments as vectors, or returns the default set if
// there are none.
func parseVectors(args []string) ([]vector, error) {
	if len(args) == 0 {
		return defaultVectors, nil
	}
	vs := make([]vector, 0, len(args))
	for _, a := range args {
		v, err := parseVector(a)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

// lfsrDelay turns an LFSR sample into a wait of one or two seconds.
func lfsrDelay(v uint32) time.Duration {
	return time.Duration((v&0xefffffff)%2+1) * time.Second
}

type delayFunc func() (time.Duration, error)

// parseDelay returns how to pick the wait between tests: "lfsr" samples the
// free-running counter in the PL before each wait, anything else is a fixed
// duration.
func parseDelay(s string, mem zynq.Memory) (delayFunc, error) {
	if s == "lfsr" {
		return func() (time.Duration, error) {
			v, err := mem.Read32(zynq.LFSR_COUNTER)
			if err != nil {
				return 0, fmt.Errorf("couldn't read LFSR: %w", err)
			}
			return lfsrDelay(v), nil
		}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse delay '%s': %v", s, err)
	}
	if d < 0 {
		return nil, fmt.Errorf("negative delay %v", d)
	}
	return func() (time.Duration, error) { return d, nil }, nil
}
