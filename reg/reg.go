// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reg provides register facades on top of a register bus.
//
// A Device maps names to bit-fields within a contiguous address window,
// following a compile-time table of Field descriptions.
// Regs offers sticky-error raw register access for routines that issue
// a sequence of transactions and check for failure once.
package reg // import "github.com/go-lpc/epix/reg"

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/epix/bus"
)

var (
	ErrUnknown = errors.New("reg: unknown field")
	ErrRange   = errors.New("reg: value out of range")
)

// Field describes a named bit-field of a register.
type Field struct {
	Name      string
	Offset    uint32 // byte offset of the register within the device window
	BitOffset uint
	BitSize   uint
	Verify    bool // whether read-back must match the written value
}

// Mask returns the mask of the field, shifted into position.
func (f Field) Mask() uint32 {
	return f.max() << f.BitOffset
}

func (f Field) max() uint32 {
	if f.BitSize >= 32 {
		return 0xffffffff
	}
	return 1<<f.BitSize - 1
}

func (f Field) get(word uint32) uint32 {
	return (word >> f.BitOffset) & f.max()
}

func (f Field) set(word, v uint32) uint32 {
	return word&^f.Mask() | (v<<f.BitOffset)&f.Mask()
}

// Table is the list of fields of a device kind.
type Table []Field

// Device is a named register window on a bus.
type Device struct {
	name   string
	bus    bus.Bus
	base   uint32
	fields Table
	index  map[string]int
}

// NewDevice creates a register facade for the window starting at base.
func NewDevice(name string, b bus.Bus, base uint32, tbl Table) *Device {
	dev := &Device{
		name:   name,
		bus:    b,
		base:   base,
		fields: tbl,
		index:  make(map[string]int, len(tbl)),
	}
	for i, f := range tbl {
		if _, dup := dev.index[f.Name]; dup {
			panic(fmt.Errorf("reg: duplicate field %q in device %q", f.Name, name))
		}
		dev.index[f.Name] = i
	}
	return dev
}

func (dev *Device) Name() string { return dev.name }
func (dev *Device) Base() uint32 { return dev.base }

// Fields returns the fields of the device, in table order.
func (dev *Device) Fields() []Field {
	return append([]Field(nil), dev.fields...)
}

// Field returns the named field description.
func (dev *Device) Field(name string) (Field, error) {
	i, ok := dev.index[name]
	if !ok {
		return Field{}, fmt.Errorf("%w %s.%s", ErrUnknown, dev.name, name)
	}
	return dev.fields[i], nil
}

// Addr returns the absolute address of the named field's register.
func (dev *Device) Addr(name string) (uint32, error) {
	f, err := dev.Field(name)
	if err != nil {
		return 0, err
	}
	return dev.base + f.Offset, nil
}

// Get reads the named field.
func (dev *Device) Get(name string) (uint32, error) {
	f, err := dev.Field(name)
	if err != nil {
		return 0, err
	}
	word, err := dev.bus.ReadWord(dev.base + f.Offset)
	if err != nil {
		return 0, fmt.Errorf("reg: could not read %s.%s: %w", dev.name, name, err)
	}
	return f.get(word), nil
}

// Set writes v into the named field.
// Fields narrower than a word are updated with a read-modify-write cycle.
// Verifying fields are read back and compared with v.
func (dev *Device) Set(name string, v uint32) error {
	f, err := dev.Field(name)
	if err != nil {
		return err
	}
	return dev.set(f, v, f.Verify)
}

func (dev *Device) set(f Field, v uint32, verify bool) error {
	if v > f.max() {
		return fmt.Errorf("%w: %s.%s=0x%x (%d bits)", ErrRange, dev.name, f.Name, v, f.BitSize)
	}

	addr := dev.base + f.Offset
	word := v
	if f.BitSize < 32 {
		cur, err := dev.bus.ReadWord(addr)
		if err != nil {
			return fmt.Errorf("reg: could not read %s.%s: %w", dev.name, f.Name, err)
		}
		word = f.set(cur, v)
	}

	err := dev.bus.WriteWord(addr, word)
	if err != nil {
		return fmt.Errorf("reg: could not write %s.%s: %w", dev.name, f.Name, err)
	}

	if !verify {
		return nil
	}

	got, err := dev.bus.ReadWord(addr)
	if err != nil {
		return fmt.Errorf("reg: could not verify %s.%s: %w", dev.name, f.Name, err)
	}
	if f.get(got) != v {
		return fmt.Errorf(
			"reg: could not verify %s.%s (got=0x%x, want=0x%x): %w",
			dev.name, f.Name, f.get(got), v,
			&bus.Error{Op: "verify", Addr: addr, Err: bus.ErrVerify},
		)
	}
	return nil
}

// Pulse asserts then clears the named strobe field.
func (dev *Device) Pulse(name string) error {
	f, err := dev.Field(name)
	if err != nil {
		return err
	}
	err = dev.set(f, 1, false)
	if err != nil {
		return err
	}
	return dev.set(f, 0, false)
}

// Dump writes the current value of every field to w.
func (dev *Device) Dump(w io.Writer) error {
	for _, f := range dev.fields {
		v, err := dev.Get(f.Name)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s.%-24s 0x%08x = 0x%x\n", dev.name, f.Name, dev.base+f.Offset, v)
		if err != nil {
			return fmt.Errorf("reg: could not dump %s: %w", dev.name, err)
		}
	}
	return nil
}
