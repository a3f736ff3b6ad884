package zynq

import (
	"testing"
)

func TestSimMemoryLock(t *testing.T) {
	s := NewSimMemory()
	s.LockAfter = 2
	lock := uint32(1 << PLL_STATUS_LOCK_BIT)

	if v, _ := s.Read32(ARM_PLL_STATUS); v&lock == 0 {
		t.Errorf("Not locked out of reset: %08X", v)
	}
	s.Write32(ARM_PLL_CTRL, ARM_PLL_CTRL_RESET|PLL_CTRL_RESET)
	if v, _ := s.Read32(ARM_PLL_STATUS); v&lock != 0 {
		t.Errorf("Locked while in reset: %08X", v)
	}
	s.Write32(ARM_PLL_CTRL, ARM_PLL_CTRL_RESET)

	want := []bool{false, false, true, true}
	for i, w := range want {
		v, _ := s.Read32(ARM_PLL_STATUS)
		if got := v&lock != 0; got != w {
			t.Errorf("Status read %d, got locked: %v, want: %v", i, got, w)
		}
	}
}

func TestSimMemoryNeverLocks(t *testing.T) {
	s := NewSimMemory()
	s.LockAfter = -1
	s.Write32(ARM_PLL_CTRL, PLL_CTRL_RESET)
	s.Write32(ARM_PLL_CTRL, 0)
	for i := 0; i < 100; i++ {
		if v, _ := s.Read32(ARM_PLL_STATUS); v&1 != 0 {
			t.Fatalf("Locked after %d reads: %08X", i, v)
		}
	}
}

func TestSimMemoryLog(t *testing.T) {
	s := NewSimMemory()
	s.Write32(ARM_CLK_CTRL, 0x200)
	s.Read32(ARM_CLK_CTRL)
	s.Write32(ARM_PLL_STATUS, 0)
	s.Read32(LFSR_COUNTER)

	want := []string{
		"W F8000120 00000200",
		"R F8000120 00000200",
		"W F800010C 00000000",
		"R 43C00000 00000000",
	}
	got := s.Log()
	if len(got) != len(want) {
		t.Fatalf("Wrong log length, got: %d, want: %d", len(got), len(want))
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("Log %d got: %s, want: %s", i, got[i], want[i])
		}
	}
	if v := s.Get(ARM_PLL_STATUS); v != ARM_PLL_STATUS_RESET {
		t.Errorf("Status register was written: %08X", v)
	}
	s.ResetLog()
	if len(s.Log()) != 0 {
		t.Errorf("Log not empty after ResetLog: %v", s.Log())
	}
}

func TestSimMemoryUnaligned(t *testing.T) {
	s := NewSimMemory()
	if _, err := s.Read32(ARM_PLL_CTRL + 1); err == nil {
		t.Errorf("Unaligned read succeeded")
	}
	if err := s.Write32(ARM_PLL_CTRL+2, 0); err == nil {
		t.Errorf("Unaligned write succeeded")
	}
	if len(s.Log()) != 0 {
		t.Errorf("Failed accesses logged: %v", s.Log())
	}
}
