// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package adc aligns the deserializers of the camera ADCs.
//
// Each ADC delivers one frame-alignment lane and eight data lanes.
// For every lane, the trainer sweeps the input delay over all taps,
// collects the taps for which the lane is aligned, and programs the
// middle of the longest aligned window.
package adc // import "github.com/go-lpc/epix/adc"

import (
	"fmt"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/regs"
	"github.com/go-lpc/epix/reg"
)

const (
	NumADCs      = 10
	NumDataLanes = 8
	FrameLane    = NumDataLanes // index of the frame-alignment lane
	NumLanes     = NumDataLanes + 1
	NumTaps      = 512
)

// Kind classifies lane training failures.
type Kind uint8

const (
	NoLock      Kind = iota + 1 // no passing delay tap
	PatternFail                 // committed data lane tap failed the pattern check
)

func (k Kind) String() string {
	switch k {
	case NoLock:
		return "no-lock"
	case PatternFail:
		return "pattern-fail"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// LaneError reports a lane for which no passing delay tap was found.
type LaneError struct {
	ADC  int
	Lane int
	Kind Kind
}

func (e *LaneError) Error() string {
	return fmt.Sprintf("adc: %v(%d, %d)", e.Kind, e.ADC, e.Lane)
}

// Window is a contiguous range of passing delay taps, bounds included.
type Window struct {
	Start int
	End   int
}

func (w Window) Len() int { return w.End - w.Start + 1 }

// Mid returns the middle tap of the window, rounded down.
func (w Window) Mid() int { return (w.Start + w.End) / 2 }

// Windows returns the maximal runs of passing taps, in ascending order.
func Windows(pass []bool) []Window {
	var (
		out []Window
		beg = -1
	)
	for i, ok := range pass {
		switch {
		case ok && beg < 0:
			beg = i
		case !ok && beg >= 0:
			out = append(out, Window{Start: beg, End: i - 1})
			beg = -1
		}
	}
	if beg >= 0 {
		out = append(out, Window{Start: beg, End: len(pass) - 1})
	}
	return out
}

// Best returns the longest window, the one with the lowest start on ties.
func Best(ws []Window) (Window, bool) {
	if len(ws) == 0 {
		return Window{}, false
	}
	best := ws[0]
	for _, w := range ws[1:] {
		if w.Len() > best.Len() || (w.Len() == best.Len() && w.Start < best.Start) {
			best = w
		}
	}
	return best, true
}

var rdoutRegs = reg.Table{
	{Name: "DataDelay0", Offset: regs.RDOUT_DATA_DELAY + 0*regs.WORD, BitSize: 32},
	{Name: "DataDelay1", Offset: regs.RDOUT_DATA_DELAY + 1*regs.WORD, BitSize: 32},
	{Name: "DataDelay2", Offset: regs.RDOUT_DATA_DELAY + 2*regs.WORD, BitSize: 32},
	{Name: "DataDelay3", Offset: regs.RDOUT_DATA_DELAY + 3*regs.WORD, BitSize: 32},
	{Name: "DataDelay4", Offset: regs.RDOUT_DATA_DELAY + 4*regs.WORD, BitSize: 32},
	{Name: "DataDelay5", Offset: regs.RDOUT_DATA_DELAY + 5*regs.WORD, BitSize: 32},
	{Name: "DataDelay6", Offset: regs.RDOUT_DATA_DELAY + 6*regs.WORD, BitSize: 32},
	{Name: "DataDelay7", Offset: regs.RDOUT_DATA_DELAY + 7*regs.WORD, BitSize: 32},
	{Name: "FrameDelay", Offset: regs.RDOUT_FRAME_DELAY, BitSize: 32},
	{Name: "LostLockCount", Offset: regs.RDOUT_LOCK, BitOffset: 0, BitSize: 16},
	{Name: "Locked", Offset: regs.RDOUT_LOCK, BitOffset: 16, BitSize: 1},
	{Name: "CntRst", Offset: regs.RDOUT_CNT_RST, BitSize: 1},
}

var delayNames = [NumLanes]string{
	"DataDelay0", "DataDelay1", "DataDelay2", "DataDelay3",
	"DataDelay4", "DataDelay5", "DataDelay6", "DataDelay7",
	"FrameDelay",
}

var cfgRegs = reg.Table{
	{Name: "InternalPdwnMode", Offset: regs.ADC_CFG_PDWN, BitSize: 2, Verify: true},
	{Name: "OutputTestMode", Offset: regs.ADC_CFG_TEST, BitSize: 4, Verify: true},
	{Name: "OutputFormat", Offset: regs.ADC_CFG_FORMAT, BitSize: 1, Verify: true},
}

var testerRegs = reg.Table{
	{Name: "TestChannel", Offset: regs.TESTER_CHANNEL - regs.TESTER_BASE, BitSize: 32, Verify: true},
	{Name: "TestDataMask", Offset: regs.TESTER_MASK - regs.TESTER_BASE, BitSize: 32, Verify: true},
	{Name: "TestPattern", Offset: regs.TESTER_PATTERN - regs.TESTER_BASE, BitSize: 32, Verify: true},
	{Name: "TestSamples", Offset: regs.TESTER_SAMPLES - regs.TESTER_BASE, BitSize: 32, Verify: true},
	{Name: "TestTimeout", Offset: regs.TESTER_TIMEOUT - regs.TESTER_BASE, BitSize: 32, Verify: true},
	{Name: "TestRequest", Offset: regs.TESTER_REQUEST - regs.TESTER_BASE, BitSize: 1},
	{Name: "TestPassed", Offset: regs.TESTER_PASSED - regs.TESTER_BASE, BitSize: 1},
	{Name: "TestFailed", Offset: regs.TESTER_FAILED - regs.TESTER_BASE, BitSize: 1},
}

// Readout is the register facade of the deserializer block of one ADC.
type Readout struct {
	*reg.Device
}

func newReadout(b bus.Bus, i int) Readout {
	return Readout{reg.NewDevice(fmt.Sprintf("rdout%d", i), b, regs.RdoutAddr(i), rdoutRegs)}
}

// SetDelay loads a delay tap into a lane.
func (r Readout) SetDelay(lane, tap int) error {
	if tap < 0 || tap >= NumTaps {
		return fmt.Errorf("adc: invalid delay tap %d", tap)
	}
	return r.Set(delayNames[lane], regs.DELAY_LOAD|uint32(tap))
}

// Delay returns the delay tap loaded in a lane.
func (r Readout) Delay(lane int) (int, error) {
	v, err := r.Get(delayNames[lane])
	return int(v & regs.DELAY_MASK), err
}

// Config is the register facade of the configuration block of one ADC.
type Config struct {
	*reg.Device
}

func newConfig(b bus.Bus, i int) Config {
	return Config{reg.NewDevice(fmt.Sprintf("adc%d", i), b, regs.AdcCfgAddr(i), cfgRegs)}
}

// Tester is the register facade of the ADC pattern tester.
type Tester struct {
	*reg.Device
}

func newTester(b bus.Bus) Tester {
	return Tester{reg.NewDevice("tester", b, regs.TESTER_BASE, testerRegs)}
}
