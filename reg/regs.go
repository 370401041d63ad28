// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reg

import (
	"fmt"

	"github.com/go-lpc/epix/bus"
)

// Regs gives raw register access with a sticky error:
// once a transaction has failed, subsequent accesses are no-ops
// and Err reports the first failure.
type Regs struct {
	bus bus.Bus
	err error
}

func NewRegs(b bus.Bus) *Regs {
	return &Regs{bus: b}
}

// Bus returns the underlying register bus.
func (r *Regs) Bus() bus.Bus { return r.bus }

// Err returns the first error encountered since the last Reset.
func (r *Regs) Err() error { return r.err }

// Reset clears the sticky error.
func (r *Regs) Reset() { r.err = nil }

func (r *Regs) Read(addr uint32) uint32 {
	if r.err != nil {
		return 0
	}
	var v uint32
	v, r.err = r.bus.ReadWord(addr)
	if r.err != nil {
		r.err = fmt.Errorf("could not read register 0x%08x: %w", addr, r.err)
		return 0
	}
	return v
}

func (r *Regs) Write(addr, v uint32) {
	if r.err != nil {
		return
	}
	r.err = r.bus.WriteWord(addr, v)
	if r.err != nil {
		r.err = fmt.Errorf("could not write register 0x%08x: %w", addr, r.err)
	}
}

func (r *Regs) ReadBlock(addr uint32, n int) []uint32 {
	if r.err != nil {
		return nil
	}
	var vs []uint32
	vs, r.err = r.bus.ReadBlock(addr, n)
	if r.err != nil {
		r.err = fmt.Errorf("could not read block 0x%08x: %w", addr, r.err)
		return nil
	}
	return vs
}

func (r *Regs) WriteBlock(addr uint32, vs []uint32) {
	if r.err != nil {
		return
	}
	r.err = r.bus.WriteBlock(addr, vs)
	if r.err != nil {
		r.err = fmt.Errorf("could not write block 0x%08x: %w", addr, r.err)
	}
}

// Pin returns a handle on the register at addr.
func (r *Regs) Pin(addr uint32) Reg32 {
	return Reg32{regs: r, addr: addr}
}

// Reg32 is a 32-bit register bound to a Regs.
type Reg32 struct {
	regs *Regs
	addr uint32
}

func (p Reg32) Addr() uint32 { return p.addr }
func (p Reg32) R() uint32    { return p.regs.Read(p.addr) }
func (p Reg32) W(v uint32)   { p.regs.Write(p.addr, v) }

// Set sets the bits of mask with a read-modify-write cycle.
func (p Reg32) Set(mask uint32) {
	v := p.R()
	p.W(v | mask)
}

// Clear clears the bits of mask with a read-modify-write cycle.
func (p Reg32) Clear(mask uint32) {
	v := p.R()
	p.W(v &^ mask)
}
