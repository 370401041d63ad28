// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
)

func TestChunks(t *testing.T) {
	for _, tc := range []struct {
		addr uint32
		n    int
		max  int
		want []Burst
	}{
		{
			addr: 0, n: 0, max: 0,
			want: nil,
		},
		{
			addr: 0, n: 4, max: 0,
			want: []Burst{{Addr: 0, Off: 0, N: 4}},
		},
		{
			addr: 0, n: 4272, max: 0,
			want: []Burst{
				{Addr: 0x0000, Off: 0, N: 1024},
				{Addr: 0x1000, Off: 1024, N: 1024},
				{Addr: 0x2000, Off: 2048, N: 1024},
				{Addr: 0x3000, Off: 3072, N: 1024},
				{Addr: 0x4000, Off: 4096, N: 176},
			},
		},
		{
			addr: 0x0ff8, n: 4, max: 0,
			want: []Burst{
				{Addr: 0x0ff8, Off: 0, N: 2},
				{Addr: 0x1000, Off: 2, N: 2},
			},
		},
		{
			addr: 0x10, n: 10, max: 4,
			want: []Burst{
				{Addr: 0x10, Off: 0, N: 4},
				{Addr: 0x20, Off: 4, N: 4},
				{Addr: 0x30, Off: 8, N: 2},
			},
		},
		{
			addr: 0, n: 2000, max: 5000,
			want: []Burst{
				{Addr: 0x0000, Off: 0, N: 1024},
				{Addr: 0x1000, Off: 1024, N: 976},
			},
		},
	} {
		t.Run(fmt.Sprintf("0x%x-%d-%d", tc.addr, tc.n, tc.max), func(t *testing.T) {
			got := Chunks(tc.addr, tc.n, tc.max)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid bursts:\ngot= %+v\nwant=%+v", got, tc.want)
			}
		})
	}
}

type memRW struct {
	buf  []byte
	fail error
	ops  []int64
}

func (m *memRW) ReadAt(p []byte, off int64) (int, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	m.ops = append(m.ops, off)
	return copy(p, m.buf[off:]), nil
}

func (m *memRW) WriteAt(p []byte, off int64) (int, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	m.ops = append(m.ops, off)
	return copy(m.buf[off:], p), nil
}

func TestMem(t *testing.T) {
	rw := &memRW{buf: make([]byte, 0x10000)}
	m := NewMem(rw, 0x100)

	err := m.WriteWord(0x4, 0x11223344)
	if err != nil {
		t.Fatalf("could not write word: %+v", err)
	}
	if got, want := rw.buf[0x104:0x108], []byte{0x44, 0x33, 0x22, 0x11}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid layout: got=%x, want=%x", got, want)
	}

	v, err := m.ReadWord(0x4)
	if err != nil {
		t.Fatalf("could not read word: %+v", err)
	}
	if got, want := v, uint32(0x11223344); got != want {
		t.Fatalf("invalid value: got=0x%x, want=0x%x", got, want)
	}

	vs := make([]uint32, 1500)
	for i := range vs {
		vs[i] = uint32(i) * 3
	}
	rw.ops = nil
	err = m.WriteBlock(0x800, vs)
	if err != nil {
		t.Fatalf("could not write block: %+v", err)
	}
	if got, want := rw.ops, []int64{0x900, 0x1100}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid burst offsets: got=%#x, want=%#x", got, want)
	}

	got, err := m.ReadBlock(0x800, len(vs))
	if err != nil {
		t.Fatalf("could not read block: %+v", err)
	}
	if !reflect.DeepEqual(got, vs) {
		t.Fatalf("invalid block read-back")
	}

	err = m.WriteWord(0x3, 1)
	if !errors.Is(err, ErrBus) {
		t.Fatalf("invalid unaligned error: %+v", err)
	}

	rw.fail = io.ErrUnexpectedEOF
	_, err = m.ReadWord(0x8)
	if !errors.Is(err, ErrBus) {
		t.Fatalf("invalid read error: %+v", err)
	}
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("invalid error type: %T", err)
	}
	if got, want := berr.Addr, uint32(0x8); got != want {
		t.Fatalf("invalid error address: got=0x%x, want=0x%x", got, want)
	}
	if got, want := err.Error(), "bus: read 0x00000008: bus-error: unexpected EOF"; got != want {
		t.Fatalf("invalid error message:\ngot= %q\nwant=%q", got, want)
	}
}

func TestSim(t *testing.T) {
	s := NewSim()

	err := s.WriteWord(0x10, 42)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if got, want := s.Peek(0x10), uint32(42); got != want {
		t.Fatalf("invalid stored value: got=%d, want=%d", got, want)
	}

	// strobe: not stored, sets a status bit.
	s.OnWrite(0x20, func(w Words, addr, v uint32) error {
		if v&1 != 0 {
			w.Set(0x24, w.Get(0x24)+1)
		}
		return nil
	})
	for i := 0; i < 3; i++ {
		err = s.WriteWord(0x20, 1)
		if err != nil {
			t.Fatalf("could not pulse strobe: %+v", err)
		}
	}
	if got, want := s.Peek(0x20), uint32(0); got != want {
		t.Fatalf("invalid strobe value: got=%d, want=%d", got, want)
	}
	v, err := s.ReadWord(0x24)
	if err != nil {
		t.Fatalf("could not read status: %+v", err)
	}
	if got, want := v, uint32(3); got != want {
		t.Fatalf("invalid status: got=%d, want=%d", got, want)
	}

	s.OnReadRange(0x100, 0x200, func(w Words, addr uint32) (uint32, error) {
		return addr * 2, nil
	})
	vs, err := s.ReadBlock(0x1f8, 4)
	if err != nil {
		t.Fatalf("could not read block: %+v", err)
	}
	if got, want := vs, []uint32{0x3f0, 0x3f8, 0, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid block: got=%#x, want=%#x", got, want)
	}

	s.Fail(0x208, ErrTimeout)
	err = s.WriteBlock(0x200, []uint32{1, 2, 3, 4})
	switch {
	case !errors.Is(err, ErrTimeout):
		t.Fatalf("invalid fault: %+v", err)
	default:
		var berr *Error
		if !errors.As(err, &berr) || berr.Addr != 0x208 || berr.Op != "write-block" {
			t.Fatalf("invalid fault details: %+v", err)
		}
	}
	if got, want := s.Addrs(0x200, 0x210), []uint32{0x200, 0x204}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid partial write: got=%#x, want=%#x", got, want)
	}

	s.Fail(0x208, nil)
	err = s.WriteBlock(0x200, []uint32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("could not write block after clearing fault: %+v", err)
	}

	if got, want := s.Transactions(), 8; got != want {
		t.Fatalf("invalid number of transactions: got=%d, want=%d", got, want)
	}
}

func TestRecorder(t *testing.T) {
	s := NewSim()
	r := NewRecorder(s)

	_ = r.WriteWord(0x0, 1)
	_ = r.WriteBlock(0x100, []uint32{1, 2, 3})
	_, _ = r.ReadWord(0x0)
	_, _ = r.ReadBlock(0x100, 2)

	txns := r.Txns()
	if got, want := len(txns), 4; got != want {
		t.Fatalf("invalid trace length: got=%d, want=%d", got, want)
	}
	for i, want := range []string{
		"write 0x00000000 0x00000001",
		"write-block 0x00000100 [3 words]",
		"read 0x00000000 0x00000001",
		"read-block 0x00000100 [2 words]",
	} {
		if got := txns[i].String(); got != want {
			t.Fatalf("invalid txn[%d]: got=%q, want=%q", i, got, want)
		}
	}

	r.Reset()
	if got, want := len(r.Txns()), 0; got != want {
		t.Fatalf("invalid trace length after reset: got=%d, want=%d", got, want)
	}
}
