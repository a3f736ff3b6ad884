package zynq

import "fmt"

// Access is one recorded register access.
type Access struct {
	Write bool
	Addr  uintptr
	Val   uint32
}

func (a Access) String() string {
	op := "R"
	if a.Write {
		op = "W"
	}
	return fmt.Sprintf("%s %08X %08X", op, a.Addr, a.Val)
}

// SimMemory is an in-process register file that behaves enough like the
// Zynq slcr for the PLL sequence to run without hardware.
//
// Asserting the PLL reset clears the lock bit in ARM_PLL_STATUS. Releasing
// it makes the lock bit come back after LockAfter further status reads.
// LockAfter < 0 means the PLL never locks.
type SimMemory struct {
	LockAfter int
	LockBit   uint

	regs    map[uintptr]uint32
	log     []Access
	pending int
	locking bool
}

// NewSimMemory returns a register file seeded with the reset values.
func NewSimMemory() *SimMemory {
	return &SimMemory{
		LockBit: PLL_STATUS_LOCK_BIT,
		regs: map[uintptr]uint32{
			ARM_PLL_CTRL:   ARM_PLL_CTRL_RESET,
			ARM_PLL_CFG:    ARM_PLL_CFG_RESET,
			ARM_PLL_STATUS: ARM_PLL_STATUS_RESET,
			ARM_CLK_CTRL:   ARM_CLK_CTRL_RESET,
		},
	}
}

// Set stores val at addr without recording an access.
func (s *SimMemory) Set(addr uintptr, val uint32) {
	s.regs[addr] = val
}

// Get returns the value at addr without recording an access.
func (s *SimMemory) Get(addr uintptr) uint32 {
	return s.regs[addr]
}

// Log returns all accesses since creation or the last ResetLog, oldest first.
func (s *SimMemory) Log() []Access {
	return s.log
}

func (s *SimMemory) ResetLog() {
	s.log = nil
}

func (s *SimMemory) Read32(addr uintptr) (uint32, error) {
	if addr&3 != 0 {
		return 0, &AccessError{"read", addr, errUnaligned}
	}
	if addr == ARM_PLL_STATUS && s.locking {
		if s.pending <= 0 && s.LockAfter >= 0 {
			s.regs[ARM_PLL_STATUS] |= 1 << s.LockBit
			s.locking = false
		}
		s.pending--
	}
	v := s.regs[addr]
	s.log = append(s.log, Access{false, addr, v})
	return v, nil
}

func (s *SimMemory) Write32(addr uintptr, val uint32) error {
	if addr&3 != 0 {
		return &AccessError{"write", addr, errUnaligned}
	}
	s.log = append(s.log, Access{true, addr, val})
	if addr == ARM_PLL_STATUS {
		// Read-only
		return nil
	}
	if addr == ARM_PLL_CTRL {
		old := s.regs[addr]
		if val&PLL_CTRL_RESET != 0 {
			s.regs[ARM_PLL_STATUS] &^= 1 << s.LockBit
			s.locking = false
		} else if old&PLL_CTRL_RESET != 0 {
			s.locking = true
			s.pending = s.LockAfter
		}
	}
	s.regs[addr] = val
	return nil
}
