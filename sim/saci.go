// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/regs"
)

// failure codes reported by the simulated SACI core.
const (
	CodeSequence = 0x01 // pixel buffer not written from word 0 in ascending order
	CodeShort    = 0x02 // pixel buffer not completely written
)

func (cam *Camera) setupSACI() {
	for i := range cam.asics {
		i := i
		bram := regs.AsicAddr(i) + regs.ASIC_BRAM
		cam.OnWriteRange(bram, bram+nWords*regs.WORD, func(w bus.Words, addr, v uint32) error {
			cam.mu.Lock()
			defer cam.mu.Unlock()

			asic := &cam.asics[i]
			off := int(addr-bram) / regs.WORD
			if off == 0 {
				asic.ptr = 0
				asic.ok = true
			}
			if off != asic.ptr {
				asic.ok = false
			}
			asic.ptr = off + 1
			w.Set(addr, v)
			return nil
		})
	}

	strobe := func(f func(w bus.Words, sel uint16)) bus.WriteHook {
		return func(w bus.Words, addr, v uint32) error {
			if v&1 == 0 {
				return nil
			}
			cam.mu.Lock()
			defer cam.mu.Unlock()

			sel := uint16(w.Get(regs.SACI_CONF_SEL))
			cam.saci.busy = cam.BusyPolls
			cam.saci.done = 0
			cam.saci.ferr = 0
			cam.saci.all = false
			f(w, sel)
			cam.saci.all = true
			return nil
		}
	}

	cam.OnWrite(regs.SACI_CONF_WR_REQ, strobe(func(w bus.Words, sel uint16) {
		for i := range cam.asics {
			bit := uint16(1) << i
			if sel&bit == 0 {
				continue
			}
			asic := &cam.asics[i]
			switch {
			case cam.saci.fail&bit != 0:
				cam.saci.ferr |= uint32(bit)
				cam.saci.last = cam.saci.code
			case !asic.ok:
				cam.saci.ferr |= uint32(bit)
				cam.saci.last = CodeSequence
			case asic.ptr < nWords:
				cam.saci.ferr |= uint32(bit)
				cam.saci.last = CodeShort
			default:
				bram := regs.AsicAddr(i) + regs.ASIC_BRAM
				for k := range asic.cfg {
					asic.cfg[k] = w.Get(bram + uint32(k*regs.WORD))
				}
				cam.saci.done |= uint32(bit)
			}
			asic.ok = false
			asic.ptr = 0
		}
	}))

	cam.OnWrite(regs.SACI_CONF_RD_REQ, strobe(func(w bus.Words, sel uint16) {
		for i := range cam.asics {
			bit := uint16(1) << i
			if sel&bit == 0 {
				continue
			}
			if cam.saci.fail&bit != 0 {
				cam.saci.ferr |= uint32(bit)
				cam.saci.last = cam.saci.code
				continue
			}
			asic := &cam.asics[i]
			bram := regs.AsicAddr(i) + regs.ASIC_BRAM
			for k, v := range asic.cfg {
				w.Set(bram+uint32(k*regs.WORD), v)
			}
			asic.ok = false
			asic.ptr = 0
			cam.saci.done |= uint32(bit)
		}
	}))

	cam.OnRead(regs.SACI_CONF_DONE_ALL, func(w bus.Words, addr uint32) (uint32, error) {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		switch {
		case cam.saci.hang, !cam.saci.all:
			return 0, nil
		case cam.saci.busy > 0:
			cam.saci.busy--
			return 0, nil
		}
		return 1, nil
	})

	status := func(f func() uint32) bus.ReadHook {
		return func(w bus.Words, addr uint32) (uint32, error) {
			cam.mu.Lock()
			defer cam.mu.Unlock()
			if cam.saci.hang {
				return 0, nil
			}
			return f(), nil
		}
	}
	cam.OnRead(regs.SACI_CONF_DONE, status(func() uint32 { return cam.saci.done }))
	cam.OnRead(regs.SACI_CONF_FAIL, status(func() uint32 { return cam.saci.ferr }))
	cam.OnRead(regs.SACI_FAIL_CODE, status(func() uint32 {
		if cam.saci.ferr == 0 {
			return 0
		}
		return cam.saci.last & 0xff
	}))
}
