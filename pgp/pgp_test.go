// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pgp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/stream"
)

// loopback is an in-memory data card serving SRPv3 requests from a
// simulated register space.
type loopback struct {
	lane int
	regs *bus.Sim
	rx   chan frame

	mu     sync.Mutex
	drop   bool   // drop register responses
	footer uint32 // footer of register responses
	stale  bool   // send a stale response before each response
	closed bool
}

func newLoopback(lane int) *loopback {
	return &loopback{
		lane: lane,
		regs: bus.NewSim(),
		rx:   make(chan frame, 16),
	}
}

func (lb *loopback) inject(vc stream.Channel, data []byte) {
	lb.rx <- frame{dest: Dest(lb.lane, vc), data: data}
}

func (lb *loopback) readFrame(buf []byte) (frame, error) {
	select {
	case f := <-lb.rx:
		n := copy(buf, f.data)
		f.data = buf[:n]
		return f, nil
	case <-time.After(5 * time.Millisecond):
		return frame{}, errNoFrame
	}
}

func (lb *loopback) writeFrame(dest uint32, data []byte) error {
	if dest != Dest(lb.lane, stream.ChanRegister) {
		return nil
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()

	var (
		hdr  = binary.LittleEndian.Uint32(data[0:])
		tid  = binary.LittleEndian.Uint32(data[4:])
		addr = binary.LittleEndian.Uint32(data[8:])
		n    = int(binary.LittleEndian.Uint32(data[16:])+1) / 4
		op   = (hdr >> 8) & 0x3
		out  []uint32
	)
	switch op {
	case opRead:
		out, _ = lb.regs.ReadBlock(addr, n)
	case opWrite:
		for i := 0; i < n; i++ {
			out = append(out, binary.LittleEndian.Uint32(data[srpHdrSize+4*i:]))
		}
		_ = lb.regs.WriteBlock(addr, out)
	}
	if lb.drop {
		return nil
	}

	resp := func(tid uint32) []byte {
		buf := make([]byte, srpHdrSize+4*len(out)+4)
		copy(buf, data[:srpHdrSize])
		binary.LittleEndian.PutUint32(buf[4:], tid)
		for i, v := range out {
			binary.LittleEndian.PutUint32(buf[srpHdrSize+4*i:], v)
		}
		binary.LittleEndian.PutUint32(buf[len(buf)-4:], lb.footer)
		return buf
	}
	if lb.stale {
		lb.rx <- frame{dest: dest, data: resp(tid - 1)}
	}
	lb.rx <- frame{dest: dest, data: resp(tid)}
	return nil
}

func (lb *loopback) close() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.closed = true
	return nil
}

func newTestCard(lb *loopback) *Card {
	return newCard(
		lb, lb.lane,
		WithLogger(log.New(io.Discard, "pgp: ", 0)),
		WithTimeout(50*time.Millisecond),
		WithQueue(4),
	)
}

func TestDest(t *testing.T) {
	if got, want := Dest(3, stream.ChanData), uint32(0x301); got != want {
		t.Fatalf("invalid destination: got=0x%x, want=0x%x", got, want)
	}
}

func TestSRP(t *testing.T) {
	lb := newLoopback(2)
	card := newTestCard(lb)
	defer card.Close()

	srp := card.Bus()
	err := srp.WriteWord(0x1004, 0xcafe)
	if err != nil {
		t.Fatalf("could not write word: %+v", err)
	}
	v, err := srp.ReadWord(0x1004)
	if err != nil {
		t.Fatalf("could not read word: %+v", err)
	}
	if got, want := v, uint32(0xcafe); got != want {
		t.Fatalf("invalid read-back: got=0x%x, want=0x%x", got, want)
	}

	block := make([]uint32, 3000)
	for i := range block {
		block[i] = uint32(i) * 3
	}
	err = srp.WriteBlock(0x20000, block)
	if err != nil {
		t.Fatalf("could not write block: %+v", err)
	}
	got, err := srp.ReadBlock(0x20000, len(block))
	if err != nil {
		t.Fatalf("could not read block: %+v", err)
	}
	for i := range got {
		if got[i] != block[i] {
			t.Fatalf("word %d: got=0x%x, want=0x%x", i, got[i], block[i])
		}
	}
	if got, want := lb.regs.Transactions(), 2+3+3; got != want {
		t.Fatalf("invalid number of bus transactions: got=%d, want=%d", got, want)
	}

	_, err = srp.ReadWord(0x1002)
	if !errors.Is(err, bus.ErrBus) {
		t.Fatalf("invalid error for unaligned access: %+v", err)
	}
}

func TestSRPErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		set  func(lb *loopback)
		want error
	}{
		{"timeout", func(lb *loopback) { lb.drop = true }, bus.ErrTimeout},
		{"firmware-timeout", func(lb *loopback) { lb.footer = footerTmo }, bus.ErrTimeout},
		{"axi-error", func(lb *loopback) { lb.footer = 0x2 }, bus.ErrBus},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lb := newLoopback(0)
			tc.set(lb)
			card := newTestCard(lb)
			defer card.Close()

			_, err := card.Bus().ReadWord(0x10)
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%+v, want=%v", err, tc.want)
			}
			var berr *bus.Error
			if !errors.As(err, &berr) || berr.Addr != 0x10 {
				t.Fatalf("invalid bus error: %+v", err)
			}
		})
	}
}

func TestSRPStale(t *testing.T) {
	lb := newLoopback(0)
	lb.stale = true
	lb.regs.Poke(0x40, 42)

	card := newTestCard(lb)
	defer card.Close()

	v, err := card.Bus().ReadWord(0x40)
	if err != nil {
		t.Fatalf("could not read word: %+v", err)
	}
	if v != 42 {
		t.Fatalf("invalid value: got=%d, want=42", v)
	}
}

func TestSource(t *testing.T) {
	lb := newLoopback(1)
	card := newTestCard(lb)

	lb.inject(stream.ChanData, []byte("frame-1"))
	lb.inject(stream.ChanScope, []byte("scope"))
	lb.inject(stream.ChanData, []byte("frame-2"))
	lb.rx <- frame{dest: Dest(5, stream.ChanData), data: []byte("other lane")}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	src := card.Source(stream.ChanData)
	for _, want := range []string{"frame-1", "frame-2"} {
		f, err := src.Read(ctx)
		if err != nil {
			t.Fatalf("could not read frame: %+v", err)
		}
		if f.Channel != stream.ChanData || !bytes.Equal(f.Data, []byte(want)) {
			t.Fatalf("invalid frame: got=%q, want=%q", f.Data, want)
		}
	}
	f, err := card.Source(stream.ChanScope).Read(ctx)
	if err != nil {
		t.Fatalf("could not read frame: %+v", err)
	}
	if got, want := string(f.Data), "scope"; got != want {
		t.Fatalf("invalid frame: got=%q, want=%q", got, want)
	}

	err = card.Close()
	if err != nil {
		t.Fatalf("could not close card: %+v", err)
	}
	if !lb.closed {
		t.Fatalf("device not closed")
	}
	_, err = src.Read(ctx)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error after close: %+v", err)
	}
}

func TestSourceDropped(t *testing.T) {
	lb := newLoopback(0)
	card := newTestCard(lb)
	defer card.Close()

	for i := 0; i < 10; i++ {
		lb.inject(stream.ChanMonitor, []byte{byte(i)})
	}
	deadline := time.Now().Add(time.Second)
	for card.Dropped(stream.ChanMonitor) != 6 {
		if time.Now().After(deadline) {
			t.Fatalf("invalid number of dropped frames: got=%d, want=6", card.Dropped(stream.ChanMonitor))
		}
		time.Sleep(time.Millisecond)
	}
}
