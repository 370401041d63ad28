// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bus describes the register bus of an ePix carrier board: a single
// address space of 32-bit words that may be read and written one word at a
// time or in blocks.
package bus // import "github.com/go-lpc/epix/bus"

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout = errors.New("timeout")
	ErrBus     = errors.New("bus-error")
	ErrVerify  = errors.New("verify-mismatch")
)

// Error describes a failed bus transaction.
type Error struct {
	Op   string // read, write, read-block, write-block
	Addr uint32
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bus: %s 0x%08x: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func errorf(op string, addr uint32, kind error, err error) error {
	if err == nil || errors.Is(err, kind) {
		return &Error{Op: op, Addr: addr, Err: kind}
	}
	return &Error{Op: op, Addr: addr, Err: fmt.Errorf("%w: %v", kind, err)}
}

// Bus is a 32-bit word-addressed register bus.
//
// Addresses are byte addresses and must be word aligned.
// Writes become visible in program order.
// A block write is delivered in ascending address order.
type Bus interface {
	ReadWord(addr uint32) (uint32, error)
	WriteWord(addr, v uint32) error
	ReadBlock(addr uint32, n int) ([]uint32, error)
	WriteBlock(addr uint32, vs []uint32) error
}

const (
	wordSize = 4
	pageSize = 4096 // bursts never cross a 4 KiB boundary

	// DefaultBurst is the default maximum number of words per burst.
	DefaultBurst = pageSize / wordSize
)

// Burst is a contiguous run of words within a block transaction.
type Burst struct {
	Addr uint32 // address of the first word of the burst
	Off  int    // index of the first word of the burst within the block
	N    int    // number of words
}

// Chunks splits a block of n words starting at addr into ascending bursts
// of at most max words. A burst never crosses a 4 KiB boundary.
func Chunks(addr uint32, n, max int) []Burst {
	if max <= 0 || max > DefaultBurst {
		max = DefaultBurst
	}
	var (
		out []Burst
		off int
	)
	for off < n {
		cur := addr + uint32(off*wordSize)
		room := int(pageSize-cur%pageSize) / wordSize
		sz := n - off
		if sz > max {
			sz = max
		}
		if sz > room {
			sz = room
		}
		out = append(out, Burst{Addr: cur, Off: off, N: sz})
		off += sz
	}
	return out
}

func aligned(addr uint32) bool {
	return addr%wordSize == 0
}

func checkAlign(op string, addr uint32) error {
	if aligned(addr) {
		return nil
	}
	return &Error{Op: op, Addr: addr, Err: fmt.Errorf("%w: unaligned address", ErrBus)}
}
