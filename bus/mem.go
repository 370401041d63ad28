// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"encoding/binary"
	"io"
	"sync"
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// Mem is a register bus over a memory-mapped window, such as
// the one returned by mmap.Open.
// Words are stored in little-endian order.
type Mem struct {
	mu    sync.Mutex
	rw    rwer
	base  int64
	burst int
	buf   []byte
}

// NewMem returns a register bus whose address 0 lives at offset base
// of the provided window.
func NewMem(rw rwer, base int64) *Mem {
	return &Mem{
		rw:    rw,
		base:  base,
		burst: DefaultBurst,
		buf:   make([]byte, DefaultBurst*wordSize),
	}
}

func (m *Mem) ReadWord(addr uint32) (uint32, error) {
	if err := checkAlign("read", addr); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.buf[:wordSize]
	_, err := m.rw.ReadAt(buf, m.base+int64(addr))
	if err != nil {
		return 0, errorf("read", addr, ErrBus, err)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (m *Mem) WriteWord(addr, v uint32) error {
	if err := checkAlign("write", addr); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.buf[:wordSize]
	binary.LittleEndian.PutUint32(buf, v)
	_, err := m.rw.WriteAt(buf, m.base+int64(addr))
	if err != nil {
		return errorf("write", addr, ErrBus, err)
	}
	return nil
}

func (m *Mem) ReadBlock(addr uint32, n int) ([]uint32, error) {
	if err := checkAlign("read-block", addr); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint32, n)
	for _, b := range Chunks(addr, n, m.burst) {
		buf := m.buf[:b.N*wordSize]
		_, err := m.rw.ReadAt(buf, m.base+int64(b.Addr))
		if err != nil {
			return nil, errorf("read-block", b.Addr, ErrBus, err)
		}
		for i := range out[b.Off : b.Off+b.N] {
			out[b.Off+i] = binary.LittleEndian.Uint32(buf[i*wordSize:])
		}
	}
	return out, nil
}

func (m *Mem) WriteBlock(addr uint32, vs []uint32) error {
	if err := checkAlign("write-block", addr); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range Chunks(addr, len(vs), m.burst) {
		buf := m.buf[:b.N*wordSize]
		for i, v := range vs[b.Off : b.Off+b.N] {
			binary.LittleEndian.PutUint32(buf[i*wordSize:], v)
		}
		_, err := m.rw.WriteAt(buf, m.base+int64(b.Addr))
		if err != nil {
			return errorf("write-block", b.Addr, ErrBus, err)
		}
	}
	return nil
}

var (
	_ Bus = (*Mem)(nil)
)
