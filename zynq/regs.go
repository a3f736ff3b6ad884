package zynq

import (
	"fmt"
	"strings"
)

// Register addresses in the Zynq-7000 slcr block (UG585).
const (
	ARM_PLL_CTRL   = uintptr(0xf8000100)
	ARM_PLL_STATUS = uintptr(0xf800010c)
	ARM_PLL_CFG    = uintptr(0xf8000110)
	ARM_CLK_CTRL   = uintptr(0xf8000120)

	// Free-running 32-bit LFSR in the PL. Only the test harness reads it.
	LFSR_COUNTER = uintptr(0x43c00000)
)

// Reset values, used to seed the simulated register file.
const (
	ARM_PLL_CTRL_RESET   = uint32(0x0001a008)
	ARM_PLL_CFG_RESET    = uint32(0x00177ea0)
	ARM_PLL_STATUS_RESET = uint32(0x0000003f)
	ARM_CLK_CTRL_RESET   = uint32(0x1f000400)
)

// ARM_PLL_CTRL
const (
	PLL_CTRL_FDIV_MASK    = uint32(0x0007f000)
	PLL_CTRL_FDIV_SHIFT   = 12
	PLL_CTRL_FDIV_MAX     = 0x7f
	PLL_CTRL_BYPASS_FORCE = uint32(1 << 4)
	PLL_CTRL_BYPASS_QUAL  = uint32(1 << 3)
	PLL_CTRL_PWRDWN       = uint32(1 << 1)
	PLL_CTRL_RESET        = uint32(1 << 0)
)

// ARM_PLL_CFG. The values are the recommended settings for the divider
// range we use; they are not derived from the request.
const (
	PLL_CFG_LOCK_CNT      = uint32(0xfa000)
	PLL_CFG_LOCK_CNT_MASK = uint32(0x3ff000)
	PLL_CFG_CP            = uint32(0x200)
	PLL_CFG_CP_MASK       = uint32(0xf00)
	PLL_CFG_RES           = uint32(0x20)
	PLL_CFG_RES_MASK      = uint32(0xf0)
)

// ARM_CLK_CTRL
const (
	CLK_CTRL_DIVISOR_MASK  = uint32(0x00003f00)
	CLK_CTRL_DIVISOR_SHIFT = 8
	CLK_CTRL_DIVISOR_MAX   = 0x3f
)

// ARM_PLL_STATUS. UG585 documents ARM_PLL_LOCK as bit 0 and ARM_PLL_STABLE as
// bit 3. Which of the two signals a usable clock has to be checked per board,
// hence PLL.LockBit.
const (
	PLL_STATUS_LOCK_BIT   = 0
	PLL_STATUS_STABLE_BIT = 3
)

const BASE_CLK_MHZ = 33

func pllCtrlFdiv(val uint32) uint32 {
	return (val & PLL_CTRL_FDIV_MAX) << PLL_CTRL_FDIV_SHIFT
}

func clkCtrlDivisor(val uint32) uint32 {
	return (val & CLK_CTRL_DIVISOR_MAX) << CLK_CTRL_DIVISOR_SHIFT
}

// setField replaces the bits of reg selected by mask with val&mask.
func setField(reg, mask, val uint32) uint32 {
	return (reg &^ mask) | (val & mask)
}

// pllCfgTuned returns cfg with the lock count, charge pump and loop resistor
// fields set to their fixed values. All other bits are kept.
func pllCfgTuned(cfg uint32) uint32 {
	cfg = setField(cfg, PLL_CFG_LOCK_CNT_MASK, PLL_CFG_LOCK_CNT)
	cfg = setField(cfg, PLL_CFG_CP_MASK, PLL_CFG_CP)
	cfg = setField(cfg, PLL_CFG_RES_MASK, PLL_CFG_RES)
	return cfg
}

// Frequency returns the nominal CPU clock, in MHz, for the given dividers.
func Frequency(fdiv, cdiv uint) uint {
	if cdiv == 0 {
		return 0
	}
	return BASE_CLK_MHZ * fdiv / cdiv
}

// pllCtrl decodes ARM_PLL_CTRL for logging.
type pllCtrl uint32

func (c pllCtrl) String() string {
	out := []string{fmt.Sprintf("FDIV(%d)", (uint32(c)&PLL_CTRL_FDIV_MASK)>>PLL_CTRL_FDIV_SHIFT)}
	if uint32(c)&PLL_CTRL_BYPASS_FORCE != 0 {
		out = append(out, "BypassForce")
	}
	if uint32(c)&PLL_CTRL_BYPASS_QUAL != 0 {
		out = append(out, "BypassQual")
	}
	if uint32(c)&PLL_CTRL_PWRDWN != 0 {
		out = append(out, "PwrDwn")
	}
	if uint32(c)&PLL_CTRL_RESET != 0 {
		out = append(out, "Reset")
	}
	return strings.Join(out, "|")
}
