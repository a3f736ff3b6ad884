package zynq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jpillora/backoff"
)

// At the backoff cap, DEFAULT_MAX_POLLS reads take about 2s.
const (
	DEFAULT_MAX_POLLS = 2000
	DEFAULT_POLL_MIN  = 10 * time.Microsecond
	DEFAULT_POLL_MAX  = time.Millisecond
)

// ErrLockTimeout is returned when the PLL didn't report lock within MaxPolls
// status reads.
var ErrLockTimeout = errors.New("timed out waiting for PLL lock")

// RangeError is returned when a divider doesn't fit its register field.
// Nothing has been written when it is returned.
type RangeError struct {
	Field string
	Val   uint
	Max   uint
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d out of range, max %d", e.Field, e.Val, e.Max)
}

// StepError reports the step of the reconfiguration sequence that failed,
// together with the last value seen in (or about to be written to) the
// register involved. Known is false if that register hadn't been touched yet
// in this sequence. The PLL is left in whatever state the previous successful
// write produced.
type StepError struct {
	Step  int
	Reg   string
	Last  uint32
	Known bool
	Err   error
}

func (e *StepError) Error() string {
	if !e.Known {
		return fmt.Sprintf("step %d (%s, last unknown): %v", e.Step, e.Reg, e.Err)
	}
	return fmt.Sprintf("step %d (%s, last %08X): %v", e.Step, e.Reg, e.Last, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

var regNames = map[uintptr]string{
	ARM_PLL_CTRL:   "ARM_PLL_CTRL",
	ARM_PLL_STATUS: "ARM_PLL_STATUS",
	ARM_PLL_CFG:    "ARM_PLL_CFG",
	ARM_CLK_CTRL:   "ARM_CLK_CTRL",
	LFSR_COUNTER:   "LFSR_COUNTER",
}

// PLL drives the ARM PLL and CPU clock divider. A PLL must not be used by
// more than one goroutine, and there must only be one PLL per device: the
// registers have no locking of their own.
type PLL struct {
	mem Memory

	// LockBit is the ARM_PLL_STATUS bit that signals lock.
	LockBit uint
	// MaxPolls bounds the number of status reads while waiting for lock.
	MaxPolls int
	// PollMin and PollMax bound the backoff between status reads.
	PollMin time.Duration
	PollMax time.Duration
}

func NewPLL(mem Memory) *PLL {
	return &PLL{
		mem:      mem,
		LockBit:  PLL_STATUS_LOCK_BIT,
		MaxPolls: DEFAULT_MAX_POLLS,
		PollMin:  DEFAULT_POLL_MIN,
		PollMax:  DEFAULT_POLL_MAX,
	}
}

// seq carries one run of the sequence, so every read and write knows which
// step it belongs to and failures can say where they happened.
type seq struct {
	mem  Memory
	step int
	last map[uintptr]uint32
}

func (s *seq) fail(addr uintptr, err error) error {
	v, ok := s.last[addr]
	return &StepError{s.step, regNames[addr], v, ok, err}
}

func (s *seq) read(addr uintptr) (uint32, error) {
	v, err := s.mem.Read32(addr)
	if err != nil {
		return 0, s.fail(addr, err)
	}
	s.last[addr] = v
	return v, nil
}

func (s *seq) write(addr uintptr, v uint32) error {
	s.last[addr] = v
	err := s.mem.Write32(addr, v)
	if err != nil {
		return s.fail(addr, err)
	}
	return nil
}

// Reconfigure switches the PLL to feedback divider fdiv and the CPU clock to
// clock divider cdiv. The order of steps is the one the TRM (UG585) mandates:
//
//  1. Program ARM_PLL_CFG[LOCK_CNT, PLL_CP, PLL_RES]
//  2. Force bypass (BYPASS_FORCE=1, BYPASS_QUAL=0), then program FDIV
//  3. Assert and de-assert the PLL reset
//  4. Wait for lock
//  5. Leave bypass
//  6. Program ARM_CLK_CTRL[DIVISOR]
//
// Reconfigure blocks until step 6 is written, or returns the first error.
// Errors other than RangeError come wrapped in a *StepError; nothing is
// retried, as repeating half a transition could hang the clock tree.
func (p *PLL) Reconfigure(ctx context.Context, fdiv, cdiv uint) error {
	if fdiv > PLL_CTRL_FDIV_MAX {
		return &RangeError{"feedback divider", fdiv, PLL_CTRL_FDIV_MAX}
	}
	if cdiv > CLK_CTRL_DIVISOR_MAX {
		return &RangeError{"clock divider", cdiv, CLK_CTRL_DIVISOR_MAX}
	}
	s := &seq{mem: p.mem, last: make(map[uintptr]uint32)}

	s.step = 1
	cfg, err := s.read(ARM_PLL_CFG)
	if err != nil {
		return err
	}
	log.Printf("1. Current PLL configuration register = %08X\n", cfg)
	cfg = pllCfgTuned(cfg)
	if err = s.write(ARM_PLL_CFG, cfg); err != nil {
		return err
	}
	log.Printf("1. Configured PLL configuration register = %08X\n", cfg)

	// Bypass has to be in effect before FDIV changes, so these are two writes.
	s.step = 2
	ctrl, err := s.read(ARM_PLL_CTRL)
	if err != nil {
		return err
	}
	log.Printf("2. Current PLL control register = %08X (%v)\n", ctrl, pllCtrl(ctrl))
	ctrl |= PLL_CTRL_BYPASS_FORCE
	ctrl &^= PLL_CTRL_BYPASS_QUAL
	if err = s.write(ARM_PLL_CTRL, ctrl); err != nil {
		return err
	}
	ctrl = setField(ctrl, PLL_CTRL_FDIV_MASK, pllCtrlFdiv(uint32(fdiv)))
	if err = s.write(ARM_PLL_CTRL, ctrl); err != nil {
		return err
	}
	log.Printf("2. Configured PLL control register = %08X (%v)\n", ctrl, pllCtrl(ctrl))

	// Re-read before each edge, so nothing written in step 2 gets clobbered.
	s.step = 3
	ctrl, err = s.read(ARM_PLL_CTRL)
	if err != nil {
		return err
	}
	log.Printf("3. Current PLL control register = %08X (%v)\n", ctrl, pllCtrl(ctrl))
	if err = s.write(ARM_PLL_CTRL, ctrl|PLL_CTRL_RESET); err != nil {
		return err
	}
	ctrl, err = s.read(ARM_PLL_CTRL)
	if err != nil {
		return err
	}
	ctrl &^= PLL_CTRL_RESET
	if err = s.write(ARM_PLL_CTRL, ctrl); err != nil {
		return err
	}
	log.Printf("3. Configured PLL control register = %08X (%v)\n", ctrl, pllCtrl(ctrl))

	s.step = 4
	if err = p.waitForLock(ctx, s); err != nil {
		return err
	}

	s.step = 5
	ctrl, err = s.read(ARM_PLL_CTRL)
	if err != nil {
		return err
	}
	log.Printf("5. Current PLL control register = %08X (%v)\n", ctrl, pllCtrl(ctrl))
	ctrl &^= PLL_CTRL_BYPASS_FORCE
	if err = s.write(ARM_PLL_CTRL, ctrl); err != nil {
		return err
	}
	log.Printf("5. Configured PLL control register = %08X (%v)\n", ctrl, pllCtrl(ctrl))

	s.step = 6
	clk, err := s.read(ARM_CLK_CTRL)
	if err != nil {
		return err
	}
	log.Printf("6. Current CLK control register = %08X\n", clk)
	clk = setField(clk, CLK_CTRL_DIVISOR_MASK, clkCtrlDivisor(uint32(cdiv)))
	if err = s.write(ARM_CLK_CTRL, clk); err != nil {
		return err
	}
	log.Printf("6. Configured CLK control register = %08X\n", clk)
	return nil
}

// waitForLock polls ARM_PLL_STATUS until the lock bit is set, re-reading the
// register every time. Between reads it backs off from PollMin to PollMax.
func (p *PLL) waitForLock(ctx context.Context, s *seq) error {
	b := &backoff.Backoff{
		Min:    p.PollMin,
		Max:    p.PollMax,
		Factor: 2,
		Jitter: false,
	}
	lock := uint32(1) << p.LockBit
	i := 0
	for {
		st, err := s.read(ARM_PLL_STATUS)
		if err != nil {
			return err
		}
		i++
		if st&lock != 0 {
			log.Printf("4. ARM PLL locked: status = %08X after %d reads\n", st, i)
			return nil
		}
		if i == 1 || i%1000 == 0 {
			log.Printf("4. Current PLL status register = %08X\n", st)
		}
		if i >= p.MaxPolls {
			return s.fail(ARM_PLL_STATUS, ErrLockTimeout)
		}
		t := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			t.Stop()
			return s.fail(ARM_PLL_STATUS, ctx.Err())
		case <-t.C:
		}
	}
}

// State is a decoded snapshot of the ARM clock registers.
type State struct {
	Ctrl    uint32
	Cfg     uint32
	Status  uint32
	ClkCtrl uint32

	Fdiv        uint
	BypassForce bool
	BypassQual  bool
	Reset       bool
	Locked      bool
	Cdiv        uint
}

// MHz returns the nominal CPU clock for the snapshot. In bypass the PLL
// passes the reference clock straight through.
func (st State) MHz() uint {
	if st.BypassForce {
		return Frequency(1, st.Cdiv)
	}
	return Frequency(st.Fdiv, st.Cdiv)
}

func (st State) String() string {
	return fmt.Sprintf("ARM_PLL_CTRL %08X (%v), ARM_PLL_CFG %08X, ARM_PLL_STATUS %08X (locked %v), ARM_CLK_CTRL %08X (DIVISOR %d), %d MHz",
		st.Ctrl, pllCtrl(st.Ctrl), st.Cfg, st.Status, st.Locked, st.ClkCtrl, st.Cdiv, st.MHz())
}

// State reads all four clock registers. It writes nothing.
func (p *PLL) State() (State, error) {
	var st State
	regs := []struct {
		addr uintptr
		val  *uint32
	}{
		{ARM_PLL_CTRL, &st.Ctrl},
		{ARM_PLL_CFG, &st.Cfg},
		{ARM_PLL_STATUS, &st.Status},
		{ARM_CLK_CTRL, &st.ClkCtrl},
	}
	for _, r := range regs {
		v, err := p.mem.Read32(r.addr)
		if err != nil {
			return st, fmt.Errorf("couldn't read %s: %w", regNames[r.addr], err)
		}
		*r.val = v
	}
	st.Fdiv = uint((st.Ctrl & PLL_CTRL_FDIV_MASK) >> PLL_CTRL_FDIV_SHIFT)
	st.BypassForce = st.Ctrl&PLL_CTRL_BYPASS_FORCE != 0
	st.BypassQual = st.Ctrl&PLL_CTRL_BYPASS_QUAL != 0
	st.Reset = st.Ctrl&PLL_CTRL_RESET != 0
	st.Locked = st.Status&(1<<p.LockBit) != 0
	st.Cdiv = uint((st.ClkCtrl & CLK_CTRL_DIVISOR_MASK) >> CLK_CTRL_DIVISOR_SHIFT)
	return st, nil
}
