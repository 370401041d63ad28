// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"sort"
	"sync"
)

// Words is the raw word store of a simulated bus, keyed by address.
type Words map[uint32]uint32

func (w Words) Get(addr uint32) uint32    { return w[addr] }
func (w Words) Set(addr uint32, v uint32) { w[addr] = v }

// ReadHook computes the value of a simulated register.
type ReadHook func(w Words, addr uint32) (uint32, error)

// WriteHook handles a write to a simulated register.
// Hooks are responsible for storing the value, if needed.
type WriteHook func(w Words, addr, v uint32) error

type span struct {
	lo, hi uint32 // [lo, hi)
}

func (s span) has(addr uint32) bool { return s.lo <= addr && addr < s.hi }

type rhook struct {
	span
	f ReadHook
}

type whook struct {
	span
	f WriteHook
}

// Sim is an in-memory register bus.
// Plain registers hold the last written value; hooks model strobes,
// status registers and side effects.
// Hooks run with the bus lock held and must only touch the provided Words.
type Sim struct {
	mu     sync.Mutex
	words  Words
	rhooks []rhook
	whooks []whook
	faults map[uint32]error
	burst  int
	ntxn   int
}

// NewSim returns an empty simulated bus.
func NewSim() *Sim {
	return &Sim{
		words:  make(Words),
		faults: make(map[uint32]error),
		burst:  DefaultBurst,
	}
}

// OnRead installs a read hook for the single register at addr.
func (s *Sim) OnRead(addr uint32, f ReadHook) {
	s.OnReadRange(addr, addr+wordSize, f)
}

// OnReadRange installs a read hook for all registers in [lo, hi).
func (s *Sim) OnReadRange(lo, hi uint32, f ReadHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rhooks = append(s.rhooks, rhook{span{lo, hi}, f})
}

// OnWrite installs a write hook for the single register at addr.
func (s *Sim) OnWrite(addr uint32, f WriteHook) {
	s.OnWriteRange(addr, addr+wordSize, f)
}

// OnWriteRange installs a write hook for all registers in [lo, hi).
func (s *Sim) OnWriteRange(lo, hi uint32, f WriteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whooks = append(s.whooks, whook{span{lo, hi}, f})
}

// Fail makes every transaction touching addr fail with err.
// A nil error clears the fault.
func (s *Sim) Fail(addr uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, addr)
		return
	}
	s.faults[addr] = err
}

// Peek returns the stored value at addr, bypassing hooks.
func (s *Sim) Peek(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words[addr]
}

// Poke stores v at addr, bypassing hooks.
func (s *Sim) Poke(addr, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words[addr] = v
}

// Addrs returns the sorted list of stored addresses in [lo, hi).
func (s *Sim) Addrs(lo, hi uint32) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint32
	for addr := range s.words {
		if lo <= addr && addr < hi {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transactions returns the number of transactions served so far.
// A block transaction counts once.
func (s *Sim) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ntxn
}

func (s *Sim) fault(op string, addr uint32) error {
	err, ok := s.faults[addr]
	if !ok {
		return nil
	}
	return &Error{Op: op, Addr: addr, Err: err}
}

func (s *Sim) read(op string, addr uint32) (uint32, error) {
	if err := s.fault(op, addr); err != nil {
		return 0, err
	}
	for i := len(s.rhooks) - 1; i >= 0; i-- {
		h := s.rhooks[i]
		if !h.has(addr) {
			continue
		}
		v, err := h.f(s.words, addr)
		if err != nil {
			return 0, errorf(op, addr, ErrBus, err)
		}
		return v, nil
	}
	return s.words[addr], nil
}

func (s *Sim) write(op string, addr, v uint32) error {
	if err := s.fault(op, addr); err != nil {
		return err
	}
	for i := len(s.whooks) - 1; i >= 0; i-- {
		h := s.whooks[i]
		if !h.has(addr) {
			continue
		}
		err := h.f(s.words, addr, v)
		if err != nil {
			return errorf(op, addr, ErrBus, err)
		}
		return nil
	}
	s.words[addr] = v
	return nil
}

func (s *Sim) ReadWord(addr uint32) (uint32, error) {
	if err := checkAlign("read", addr); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ntxn++
	return s.read("read", addr)
}

func (s *Sim) WriteWord(addr, v uint32) error {
	if err := checkAlign("write", addr); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ntxn++
	return s.write("write", addr, v)
}

func (s *Sim) ReadBlock(addr uint32, n int) ([]uint32, error) {
	if err := checkAlign("read-block", addr); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ntxn++

	out := make([]uint32, n)
	for _, b := range Chunks(addr, n, s.burst) {
		for i := 0; i < b.N; i++ {
			v, err := s.read("read-block", b.Addr+uint32(i*wordSize))
			if err != nil {
				return nil, err
			}
			out[b.Off+i] = v
		}
	}
	return out, nil
}

func (s *Sim) WriteBlock(addr uint32, vs []uint32) error {
	if err := checkAlign("write-block", addr); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ntxn++

	for _, b := range Chunks(addr, len(vs), s.burst) {
		for i, v := range vs[b.Off : b.Off+b.N] {
			err := s.write("write-block", b.Addr+uint32(i*wordSize), v)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

var (
	_ Bus = (*Sim)(nil)
)
