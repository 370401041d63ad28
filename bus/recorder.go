// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"fmt"
	"sync"
)

// Kind is the kind of a bus transaction.
type Kind uint8

const (
	Read Kind = iota
	Write
	ReadBlock
	WriteBlock
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadBlock:
		return "read-block"
	case WriteBlock:
		return "write-block"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Txn is a recorded bus transaction.
type Txn struct {
	Kind   Kind
	Addr   uint32
	Values []uint32 // written or read values
	Err    error
}

func (txn Txn) String() string {
	switch len(txn.Values) {
	case 1:
		return fmt.Sprintf("%v 0x%08x 0x%08x", txn.Kind, txn.Addr, txn.Values[0])
	default:
		return fmt.Sprintf("%v 0x%08x [%d words]", txn.Kind, txn.Addr, len(txn.Values))
	}
}

// Recorder is a register bus that records every transaction it forwards
// to the underlying bus.
type Recorder struct {
	bus Bus

	mu   sync.Mutex
	txns []Txn
}

// NewRecorder returns a recording bus wrapping b.
func NewRecorder(b Bus) *Recorder {
	return &Recorder{bus: b}
}

// Txns returns a copy of the recorded trace.
func (r *Recorder) Txns() []Txn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Txn(nil), r.txns...)
}

// Reset clears the recorded trace.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns = r.txns[:0]
}

func (r *Recorder) record(txn Txn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns = append(r.txns, txn)
}

func (r *Recorder) ReadWord(addr uint32) (uint32, error) {
	v, err := r.bus.ReadWord(addr)
	r.record(Txn{Kind: Read, Addr: addr, Values: []uint32{v}, Err: err})
	return v, err
}

func (r *Recorder) WriteWord(addr, v uint32) error {
	err := r.bus.WriteWord(addr, v)
	r.record(Txn{Kind: Write, Addr: addr, Values: []uint32{v}, Err: err})
	return err
}

func (r *Recorder) ReadBlock(addr uint32, n int) ([]uint32, error) {
	vs, err := r.bus.ReadBlock(addr, n)
	r.record(Txn{Kind: ReadBlock, Addr: addr, Values: append([]uint32(nil), vs...), Err: err})
	return vs, err
}

func (r *Recorder) WriteBlock(addr uint32, vs []uint32) error {
	err := r.bus.WriteBlock(addr, vs)
	r.record(Txn{Kind: WriteBlock, Addr: addr, Values: append([]uint32(nil), vs...), Err: err})
	return err
}

var (
	_ Bus = (*Recorder)(nil)
)
