// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the address map of the ePix quad carrier firmware.
//
// All addresses are byte addresses of 32-bit words.
package regs // import "github.com/go-lpc/epix/internal/regs"

const (
	WORD = 4 // size of a register word, in bytes
)

// AxiVersion block.
const (
	VERSION_BASE        = 0x00000000
	VERSION_FPGA        = VERSION_BASE + 0x000
	VERSION_SCRATCH     = VERSION_BASE + 0x004
	VERSION_UPTIME      = VERSION_BASE + 0x008
	VERSION_FPGA_RELOAD = VERSION_BASE + 0x104
	VERSION_RELOAD_ADDR = VERSION_BASE + 0x108
)

// System registers.
const (
	SYS_BASE       = 0x00100000
	SYS_DCDC_EN    = SYS_BASE + 0x000 // DC-DC converter enables, one bit per rail
	SYS_TRIG_EN    = SYS_BASE + 0x004 // acquisition/daq trigger enables
	SYS_DESER_RST  = SYS_BASE + 0x008 // deserializer reset strobe
	SYS_ASIC_MASK  = SYS_BASE + 0x00c
	SYS_RAILS_GOOD = SYS_BASE + 0x010 // power-good, one bit per rail

	DCDC_ALL = 0xf // all four rails

	O_TRIG_ACQ = 0x1
	O_TRIG_DAQ = 0x2
)

// SACI configuration core: broadcasts the per-ASIC pixel configuration
// buffers into the ASICs.
const (
	SACI_BASE          = 0x03000000
	SACI_CONF_SEL      = SACI_BASE + 0x00
	SACI_CONF_WR_REQ   = SACI_BASE + 0x04
	SACI_CONF_RD_REQ   = SACI_BASE + 0x08
	SACI_CONF_DONE_ALL = SACI_BASE + 0x0c
	SACI_CONF_DONE     = SACI_BASE + 0x10
	SACI_CONF_FAIL     = SACI_BASE + 0x14
	SACI_FAIL_CODE     = SACI_BASE + 0x18
)

// ASIC windows.
const (
	ASIC_BASE  = 0x04000000
	ASIC_SHIFT = 19
	ASIC_SPAN  = 1 << ASIC_SHIFT

	ASIC_CFG  = 0x00000 // SACI configuration registers
	ASIC_BRAM = 0x40000 // pixel configuration buffer
)

// AsicAddr returns the base address of the i-th ASIC window.
func AsicAddr(i int) uint32 {
	return ASIC_BASE + uint32(i)<<ASIC_SHIFT
}

// ADC readout (deserializer) blocks, one per ADC.
const (
	RDOUT_BASE   = 0x02000000
	RDOUT_STRIDE = 0x00100000

	RDOUT_DATA_DELAY  = 0x00 // + 4*lane, lanes [0,8)
	RDOUT_FRAME_DELAY = 0x20
	RDOUT_LOCK        = 0x30 // lost-lock counter [15:0], locked [16]
	RDOUT_CNT_RST     = 0x38

	DELAY_LOAD = 0x200 // load-enable strobe bit of a delay register
	DELAY_MASK = 0x1ff
)

// RdoutAddr returns the base address of the i-th ADC readout block.
func RdoutAddr(i int) uint32 {
	return RDOUT_BASE + uint32(i)*RDOUT_STRIDE
}

// ADC SPI configuration blocks, one per ADC.
const (
	ADC_CFG_BASE   = 0x02a00000
	ADC_CFG_STRIDE = 0x00001000

	ADC_CFG_PDWN   = 0x08 * WORD
	ADC_CFG_TEST   = 0x0d * WORD
	ADC_CFG_FORMAT = 0x14 * WORD

	PDWN_RESET = 3 // InternalPdwnMode: digital reset

	TEST_MODE_OFF   = 0
	TEST_MODE_MIXED = 12 // mixed-bit frequency pattern

	FORMAT_OFFSET_BINARY = 0
	FORMAT_TWOS_COMP     = 1
)

// AdcCfgAddr returns the base address of the i-th ADC configuration block.
func AdcCfgAddr(i int) uint32 {
	return ADC_CFG_BASE + uint32(i)*ADC_CFG_STRIDE
}

// ADC pattern tester.
const (
	TESTER_BASE    = 0x01200000
	TESTER_CHANNEL = TESTER_BASE + 0x00
	TESTER_MASK    = TESTER_BASE + 0x04
	TESTER_PATTERN = TESTER_BASE + 0x08
	TESTER_SAMPLES = TESTER_BASE + 0x0c
	TESTER_TIMEOUT = TESTER_BASE + 0x10
	TESTER_REQUEST = TESTER_BASE + 0x14
	TESTER_PASSED  = TESTER_BASE + 0x18
	TESTER_FAILED  = TESTER_BASE + 0x1c

	MIXED_PATTERN = 0x2867
	MIXED_MASK    = 0x3fff
)

// PROM controller.
const (
	PROM_BASE   = 0x00300000
	PROM_ADDR   = PROM_BASE + 0x000
	PROM_CMD    = PROM_BASE + 0x004
	PROM_STATUS = PROM_BASE + 0x008
	PROM_DATA   = PROM_BASE + 0x200

	PROM_PAGE   = 256     // bytes per program page
	PROM_SECTOR = 0x10000 // bytes per erase sector

	PROM_CMD_ERASE   = 0x1
	PROM_CMD_PROGRAM = 0x2
	PROM_CMD_READ    = 0x3

	O_PROM_BUSY = 0x1
	O_PROM_ERR  = 0x2
)

// Non-volatile calibration area.
const (
	CALIB_NV_BASE = 0x00400000
	CALIB_NV_SIZE = 0x1000
)
