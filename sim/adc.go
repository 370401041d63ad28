// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/regs"
)

func delayAddr(adc, lane int) uint32 {
	if lane == frameLane {
		return regs.RdoutAddr(adc) + regs.RDOUT_FRAME_DELAY
	}
	return regs.RdoutAddr(adc) + regs.RDOUT_DATA_DELAY + uint32(lane*regs.WORD)
}

// frameLocked reports whether the frame lane of adc is aligned.
// It must be called with cam.mu held.
func (cam *Camera) frameLocked(adc int) bool {
	fr := &cam.lanes[adc][frameLane]
	return fr.pass(int(fr.tap))
}

func (cam *Camera) setupADC() {
	for adc := range cam.lanes {
		adc := adc
		for lane := range cam.lanes[adc] {
			lane := lane
			cam.OnWrite(delayAddr(adc, lane), func(w bus.Words, addr, v uint32) error {
				if v&regs.DELAY_LOAD == 0 {
					return nil
				}
				cam.mu.Lock()
				defer cam.mu.Unlock()
				tap := v & regs.DELAY_MASK
				cam.lanes[adc][lane].tap = tap
				w.Set(addr, tap)
				return nil
			})
		}

		rdout := regs.RdoutAddr(adc)
		cam.OnRead(rdout+regs.RDOUT_LOCK, func(w bus.Words, addr uint32) (uint32, error) {
			cam.mu.Lock()
			defer cam.mu.Unlock()
			if cam.frameLocked(adc) {
				return 1 << 16, nil
			}
			return 3, nil
		})
		cam.OnWrite(rdout+regs.RDOUT_CNT_RST, func(w bus.Words, addr, v uint32) error {
			return nil
		})

		cfg := regs.AdcCfgAddr(adc)
		cam.OnWrite(cfg+regs.ADC_CFG_PDWN, func(w bus.Words, addr, v uint32) error {
			w.Set(addr, v)
			if v != regs.PDWN_RESET {
				return nil
			}
			cam.mu.Lock()
			defer cam.mu.Unlock()
			cam.resets[adc]++
			for i := range cam.lanes[adc] {
				lane := &cam.lanes[adc][i]
				if lane.fixed != nil {
					lane.pass = lane.fixed
					lane.fixed = nil
				}
			}
			return nil
		})
	}
}

func (cam *Camera) setupTester() {
	cam.OnWrite(regs.TESTER_REQUEST, func(w bus.Words, addr, v uint32) error {
		if v&1 == 0 {
			return nil
		}
		cam.mu.Lock()
		defer cam.mu.Unlock()

		cam.tester.reqs++
		cam.tester.passed = 0
		cam.tester.failed = 0

		var (
			ch   = int(w.Get(regs.TESTER_CHANNEL))
			adc  = ch / nLanes
			lane = ch % nLanes
		)
		if adc >= nADCs {
			cam.tester.failed = 1
			return nil
		}

		mode := w.Get(regs.AdcCfgAddr(adc) + regs.ADC_CFG_TEST)
		ok := mode == regs.TEST_MODE_MIXED &&
			w.Get(regs.TESTER_PATTERN) == regs.MIXED_PATTERN &&
			w.Get(regs.TESTER_MASK) == regs.MIXED_MASK &&
			w.Get(regs.TESTER_SAMPLES) > 0 &&
			cam.frameLocked(adc)
		if ok {
			l := &cam.lanes[adc][lane]
			ok = l.pass(int(l.tap))
		}

		switch {
		case ok:
			cam.tester.passed = 1
		default:
			cam.tester.failed = 1
		}
		return nil
	})

	cam.OnRead(regs.TESTER_PASSED, func(w bus.Words, addr uint32) (uint32, error) {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		return cam.tester.passed, nil
	})
	cam.OnRead(regs.TESTER_FAILED, func(w bus.Words, addr uint32) (uint32, error) {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		return cam.tester.failed, nil
	})
}

// TesterRequests returns the number of pattern tests requested so far.
func (cam *Camera) TesterRequests() int {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.tester.reqs
}
