// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim simulates the register space of an ePix quad camera.
//
// The simulator models the SACI configuration core with its per-ASIC
// pixel buffers, the ADC deserializers with configurable lock windows,
// the ADC pattern tester, the PROM controller and the non-volatile
// calibration area. Fault knobs allow tests to exercise failure paths.
package sim // import "github.com/go-lpc/epix/sim"

import (
	"sync"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/regs"
)

const (
	nASICs    = 16
	nPixels   = 178 * 192
	nWords    = (nPixels + 7) / 8
	nADCs     = 10
	nLanes    = 8 // data lanes per ADC
	frameLane = nLanes
	nTaps     = 512

	// FirmwareVersion is the value of the simulated FPGA version register.
	FirmwareVersion = 0xea020010

	promSize = 1 << 24
)

type asicState struct {
	ptr int  // expected next word of the pixel write sequence
	ok  bool // whether the pixel write sequence started at word 0 and stayed in order
	cfg []uint32
}

type laneState struct {
	tap  uint32
	pass func(tap int) bool

	// fixed lanes start passing after an ADC reset.
	fixed func(tap int) bool
}

// Camera is a simulated ePix quad camera register space.
type Camera struct {
	*bus.Sim

	mu sync.Mutex

	asics [nASICs]asicState
	saci  struct {
		sel  uint32
		busy int // number of ConfDoneAll polls before completion
		hang bool
		fail uint16 // ASICs forced to fail
		code uint32 // failure code of forced failures
		last uint32 // failure code of the last request
		done uint32
		ferr uint32
		all  bool
	}

	lanes  [nADCs][nLanes + 1]laneState
	resets [nADCs]int
	tester struct {
		channel uint32
		passed  uint32
		failed  uint32
		reqs    int
	}

	deser  int
	reload int

	railFault bool

	prom struct {
		mem  map[uint32][]byte // page address -> page content
		fail bool
	}

	// BusyPolls is the number of ConfDoneAll reads reporting "busy"
	// after each SACI request.
	BusyPolls int
}

// New returns a simulated camera.
// Every lane passes for taps in [100, 200) until configured otherwise.
func New() *Camera {
	cam := &Camera{
		Sim:       bus.NewSim(),
		BusyPolls: 2,
	}
	cam.prom.mem = make(map[uint32][]byte)
	for i := range cam.asics {
		cam.asics[i].cfg = make([]uint32, nWords)
	}
	for adc := range cam.lanes {
		for lane := range cam.lanes[adc] {
			cam.lanes[adc][lane].pass = Window(100, 200)
		}
	}

	cam.Poke(regs.VERSION_FPGA, FirmwareVersion)

	cam.setupSys()
	cam.setupSACI()
	cam.setupADC()
	cam.setupTester()
	cam.setupPROM()
	return cam
}

// Window returns a lock predicate passing for taps in [lo, hi).
func Window(lo, hi int) func(int) bool {
	return func(tap int) bool {
		return lo <= tap && tap < hi
	}
}

// Pattern returns a lock predicate following the provided per-tap pattern.
func Pattern(pass []bool) func(int) bool {
	return func(tap int) bool {
		return tap < len(pass) && pass[tap]
	}
}

func never(int) bool { return false }

// SetLane sets the lock predicate of a lane.
// Lane 8 is the frame-alignment lane.
func (cam *Camera) SetLane(adc, lane int, pass func(int) bool) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	cam.lanes[adc][lane].pass = pass
	cam.lanes[adc][lane].fixed = nil
}

// BreakLane makes a lane fail every tap until the next reset of its ADC,
// after which it follows pass.
func (cam *Camera) BreakLane(adc, lane int, pass func(int) bool) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	cam.lanes[adc][lane].pass = never
	cam.lanes[adc][lane].fixed = pass
}

// Tap returns the delay tap currently loaded in a lane.
func (cam *Camera) Tap(adc, lane int) int {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return int(cam.lanes[adc][lane].tap)
}

// Resets returns the number of soft resets issued to an ADC.
func (cam *Camera) Resets(adc int) int {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.resets[adc]
}

// DeserResets returns the number of deserializer resets.
func (cam *Camera) DeserResets() int {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.deser
}

// Reloads returns the number of FPGA reload requests.
func (cam *Camera) Reloads() int {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.reload
}

// FailASICs makes the next SACI requests fail for the ASICs of mask,
// reporting code in the failure-code register.
func (cam *Camera) FailASICs(mask uint16, code uint32) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	cam.saci.fail = mask
	cam.saci.code = code
}

// Hang makes the SACI core never complete.
func (cam *Camera) Hang(v bool) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	cam.saci.hang = v
}

// RailFault keeps the power-good flags low.
func (cam *Camera) RailFault(v bool) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	cam.railFault = v
}

// PROMFault makes PROM commands report an error.
func (cam *Camera) PROMFault(v bool) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	cam.prom.fail = v
}

// Pixels returns the pixel configuration words held by an ASIC.
func (cam *Camera) Pixels(asic int) []uint32 {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return append([]uint32(nil), cam.asics[asic].cfg...)
}

// PROM returns n bytes of the PROM content starting at addr.
func (cam *Camera) PROM(addr uint32, n int) []byte {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = cam.promByte(addr + uint32(i))
	}
	return out
}

func (cam *Camera) promByte(addr uint32) byte {
	page, ok := cam.prom.mem[addr&^(regs.PROM_PAGE-1)]
	if !ok {
		return 0xff
	}
	return page[addr%regs.PROM_PAGE]
}

func (cam *Camera) setupSys() {
	cam.OnRead(regs.SYS_RAILS_GOOD, func(w bus.Words, addr uint32) (uint32, error) {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		if cam.railFault {
			return 0, nil
		}
		return w.Get(regs.SYS_DCDC_EN) & regs.DCDC_ALL, nil
	})
	cam.OnWrite(regs.SYS_DESER_RST, func(w bus.Words, addr, v uint32) error {
		if v&1 != 0 {
			cam.mu.Lock()
			cam.deser++
			cam.mu.Unlock()
		}
		return nil
	})
	cam.OnWrite(regs.VERSION_FPGA_RELOAD, func(w bus.Words, addr, v uint32) error {
		if v&1 != 0 {
			cam.mu.Lock()
			cam.reload++
			cam.mu.Unlock()
		}
		return nil
	})
	cam.OnRead(regs.VERSION_UPTIME, func(w bus.Words, addr uint32) (uint32, error) {
		v := w.Get(addr) + 1
		w.Set(addr, v)
		return v, nil
	})
}
