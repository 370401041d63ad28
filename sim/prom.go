// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"encoding/binary"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/regs"
)

func (cam *Camera) setupPROM() {
	cam.OnWrite(regs.PROM_CMD, func(w bus.Words, addr, v uint32) error {
		cam.mu.Lock()
		defer cam.mu.Unlock()

		status := uint32(0)
		if cam.prom.fail {
			status |= regs.O_PROM_ERR
		}
		w.Set(regs.PROM_STATUS, status)
		if cam.prom.fail {
			return nil
		}

		pa := w.Get(regs.PROM_ADDR)
		if pa >= promSize {
			w.Set(regs.PROM_STATUS, regs.O_PROM_ERR)
			return nil
		}

		switch v {
		case regs.PROM_CMD_ERASE:
			beg := pa &^ (regs.PROM_SECTOR - 1)
			for p := beg; p < beg+regs.PROM_SECTOR; p += regs.PROM_PAGE {
				delete(cam.prom.mem, p)
			}

		case regs.PROM_CMD_PROGRAM:
			pa &^= regs.PROM_PAGE - 1
			page, ok := cam.prom.mem[pa]
			if !ok {
				page = make([]byte, regs.PROM_PAGE)
				for i := range page {
					page[i] = 0xff
				}
				cam.prom.mem[pa] = page
			}
			var buf [4]byte
			for i := 0; i < regs.PROM_PAGE/regs.WORD; i++ {
				binary.LittleEndian.PutUint32(buf[:], w.Get(regs.PROM_DATA+uint32(i*regs.WORD)))
				for j, b := range buf {
					page[i*regs.WORD+j] &= b // flash bits only go from 1 to 0
				}
			}

		case regs.PROM_CMD_READ:
			pa &^= regs.PROM_PAGE - 1
			var buf [4]byte
			for i := 0; i < regs.PROM_PAGE/regs.WORD; i++ {
				for j := range buf {
					buf[j] = cam.promByte(pa + uint32(i*regs.WORD+j))
				}
				w.Set(regs.PROM_DATA+uint32(i*regs.WORD), binary.LittleEndian.Uint32(buf[:]))
			}

		default:
			w.Set(regs.PROM_STATUS, regs.O_PROM_ERR)
		}
		return nil
	})
}
