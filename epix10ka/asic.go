// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package epix10ka

import (
	"fmt"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/regs"
	"github.com/go-lpc/epix/reg"
)

// saciRegs is the field table of the SACI configuration core.
var saciRegs = reg.Table{
	{Name: "ConfSel", Offset: 0x00, BitSize: 16, Verify: true},
	{Name: "ConfWrReq", Offset: 0x04, BitSize: 1},
	{Name: "ConfRdReq", Offset: 0x08, BitSize: 1},
	{Name: "ConfDoneAll", Offset: 0x0c, BitSize: 1},
	{Name: "ConfDone", Offset: 0x10, BitSize: 16},
	{Name: "ConfFail", Offset: 0x14, BitSize: 16},
	{Name: "regFailCode", Offset: 0x18, BitSize: 8},
}

func word(i uint32) uint32 { return i * regs.WORD }

// asicRegs is the field table of the ePix10ka configuration registers.
var asicRegs = reg.Table{
	{Name: "CompTH_DAC", Offset: word(0x01), BitOffset: 0, BitSize: 6, Verify: true},
	{Name: "CompEn0", Offset: word(0x01), BitOffset: 6, BitSize: 1, Verify: true},
	{Name: "PulserSync", Offset: word(0x01), BitOffset: 7, BitSize: 1, Verify: true},
	{Name: "PixelDummy", Offset: word(0x02), BitOffset: 0, BitSize: 8, Verify: true},
	{Name: "Pulser", Offset: word(0x03), BitOffset: 0, BitSize: 10, Verify: true},
	{Name: "pbit", Offset: word(0x03), BitOffset: 10, BitSize: 1, Verify: true},
	{Name: "atest", Offset: word(0x03), BitOffset: 11, BitSize: 1, Verify: true},
	{Name: "test", Offset: word(0x03), BitOffset: 12, BitSize: 1, Verify: true},
	{Name: "sab_test", Offset: word(0x03), BitOffset: 13, BitSize: 1, Verify: true},
	{Name: "hrtest", Offset: word(0x03), BitOffset: 14, BitSize: 1, Verify: true},
	{Name: "PulserR", Offset: word(0x03), BitOffset: 15, BitSize: 1, Verify: true},
	{Name: "DigMon1", Offset: word(0x04), BitOffset: 0, BitSize: 4, Verify: true},
	{Name: "DigMon2", Offset: word(0x04), BitOffset: 4, BitSize: 4, Verify: true},
	{Name: "PulserDac", Offset: word(0x05), BitOffset: 0, BitSize: 3, Verify: true},
	{Name: "MonostPulser", Offset: word(0x05), BitOffset: 3, BitSize: 3, Verify: true},
	{Name: "Dm1En", Offset: word(0x06), BitOffset: 0, BitSize: 1, Verify: true},
	{Name: "Dm2En", Offset: word(0x06), BitOffset: 1, BitSize: 1, Verify: true},
	{Name: "emph_bd", Offset: word(0x06), BitOffset: 2, BitSize: 3, Verify: true},
	{Name: "emph_bc", Offset: word(0x06), BitOffset: 5, BitSize: 3, Verify: true},
	{Name: "VRef_DAC", Offset: word(0x07), BitOffset: 0, BitSize: 6, Verify: true},
	{Name: "VRefLow", Offset: word(0x07), BitOffset: 6, BitSize: 2, Verify: true},
	{Name: "trbit", Offset: word(0x08), BitOffset: 0, BitSize: 1, Verify: true},
	{Name: "TPS_tcomp", Offset: word(0x08), BitOffset: 1, BitSize: 1, Verify: true},
	{Name: "TPS_MUX", Offset: word(0x08), BitOffset: 2, BitSize: 4, Verify: true},
	{Name: "RO_Monost", Offset: word(0x08), BitOffset: 6, BitSize: 2, Verify: true},
	{Name: "TPS_GR", Offset: word(0x09), BitOffset: 0, BitSize: 4, Verify: true},
	{Name: "S2D0_GR", Offset: word(0x09), BitOffset: 4, BitSize: 4, Verify: true},
	{Name: "PP_OCB_S2D", Offset: word(0x0a), BitOffset: 0, BitSize: 1, Verify: true},
	{Name: "OCB", Offset: word(0x0a), BitOffset: 1, BitSize: 3, Verify: true},
	{Name: "Monost", Offset: word(0x0a), BitOffset: 4, BitSize: 3, Verify: true},
	{Name: "fastpp_enable", Offset: word(0x0a), BitOffset: 7, BitSize: 1, Verify: true},
	{Name: "Preamp", Offset: word(0x0b), BitOffset: 0, BitSize: 3, Verify: true},
	{Name: "Pixel_CB", Offset: word(0x0b), BitOffset: 4, BitSize: 3, Verify: true},
	{Name: "Vld1_b", Offset: word(0x0b), BitOffset: 7, BitSize: 2, Verify: true},
	{Name: "S2D_tcomp", Offset: word(0x0c), BitOffset: 0, BitSize: 1, Verify: true},
	{Name: "Filter_DAC", Offset: word(0x0c), BitOffset: 1, BitSize: 6, Verify: true},
	{Name: "tc", Offset: word(0x0d), BitOffset: 0, BitSize: 2, Verify: true},
	{Name: "S2D", Offset: word(0x0d), BitOffset: 2, BitSize: 3, Verify: true},
	{Name: "S2D_DAC_Bias", Offset: word(0x0d), BitOffset: 5, BitSize: 3, Verify: true},
	{Name: "TPS_DAC", Offset: word(0x0e), BitOffset: 0, BitSize: 6, Verify: true},
	{Name: "S2D0_DAC", Offset: word(0x0f), BitOffset: 0, BitSize: 6, Verify: true},
	{Name: "testBE", Offset: word(0x10), BitOffset: 0, BitSize: 1, Verify: true},
	{Name: "is_en", Offset: word(0x10), BitOffset: 1, BitSize: 1, Verify: true},
	{Name: "DelEXEC", Offset: word(0x10), BitOffset: 2, BitSize: 1, Verify: true},
	{Name: "DelCCKreg", Offset: word(0x10), BitOffset: 3, BitSize: 1, Verify: true},
	{Name: "RO_rst_en", Offset: word(0x10), BitOffset: 4, BitSize: 1, Verify: true},
	{Name: "SLVDSbit", Offset: word(0x10), BitOffset: 5, BitSize: 1, Verify: true},
	{Name: "FELmode", Offset: word(0x10), BitOffset: 6, BitSize: 1, Verify: true},
	{Name: "CompEnOn", Offset: word(0x10), BitOffset: 7, BitSize: 1, Verify: true},
	{Name: "RowStart", Offset: word(0x11), BitOffset: 0, BitSize: 9, Verify: true},
	{Name: "RowStop", Offset: word(0x12), BitOffset: 0, BitSize: 9, Verify: true},
	{Name: "ColStart", Offset: word(0x13), BitOffset: 0, BitSize: 7, Verify: true},
	{Name: "ColStop", Offset: word(0x14), BitOffset: 0, BitSize: 7, Verify: true},
	{Name: "CHIP_ID", Offset: word(0x15), BitOffset: 0, BitSize: 16},
	{Name: "CmdPrepForRead", Offset: word(0x16), BitOffset: 0, BitSize: 1},
}

// ASIC is the register facade of one ePix10ka ASIC.
type ASIC struct {
	*reg.Device
	id   int
	bram uint32
}

func newASIC(b bus.Bus, i int) *ASIC {
	base := regs.AsicAddr(i)
	return &ASIC{
		Device: reg.NewDevice(fmt.Sprintf("asic%02d", i), b, base+regs.ASIC_CFG, asicRegs),
		id:     i,
		bram:   base + regs.ASIC_BRAM,
	}
}

// ID returns the index of the ASIC within the camera.
func (asic *ASIC) ID() int { return asic.id }

// BRAM returns the address of the pixel configuration buffer of the ASIC.
func (asic *ASIC) BRAM() uint32 { return asic.bram }

// Trbit returns the current trbit of the ASIC.
func (asic *ASIC) Trbit() (uint32, error) {
	return asic.Get("trbit")
}

// SetTrbit sets the trbit of the ASIC.
func (asic *ASIC) SetTrbit(v uint32) error {
	return asic.Set("trbit", v)
}
