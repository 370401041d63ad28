// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pgp

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/stream"
)

// SRPv3 request/response layout:
//
//	word 0: version [7:0], opcode [9:8], timeout [31:24]
//	word 1: transaction id
//	word 2: address [31:0]
//	word 3: address [63:32]
//	word 4: request size in bytes, minus one
//	data words (write requests, and responses)
//	footer word (responses only)
const (
	srpVersion = 0x03
	srpHdrSize = 5 * 4
	srpTimeout = 0x0a // firmware-side timeout, in units of the AXI clock

	opRead     = 0x0
	opWrite    = 0x1
	opPosted   = 0x2
	opNull     = 0x3
	footerTmo  = 1 << 8
	footerMask = 0x1fff
)

// SRP is a register bus over the SRPv3 protocol.
type SRP struct {
	card    *Card
	timeout time.Duration

	mu  sync.Mutex
	tid uint32
}

func newSRP(c *Card, timeout time.Duration) *SRP {
	return &SRP{card: c, timeout: timeout}
}

func (srp *SRP) ReadWord(addr uint32) (uint32, error) {
	vs, err := srp.ReadBlock(addr, 1)
	if err != nil {
		return 0, err
	}
	return vs[0], nil
}

func (srp *SRP) WriteWord(addr, v uint32) error {
	return srp.WriteBlock(addr, []uint32{v})
}

func (srp *SRP) ReadBlock(addr uint32, n int) ([]uint32, error) {
	if addr%4 != 0 {
		return nil, &bus.Error{Op: "read-block", Addr: addr, Err: bus.ErrBus}
	}
	out := make([]uint32, 0, n)
	for _, b := range bus.Chunks(addr, n, bus.DefaultBurst) {
		vs, err := srp.txn(opRead, b.Addr, nil, b.N)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

func (srp *SRP) WriteBlock(addr uint32, vs []uint32) error {
	if addr%4 != 0 {
		return &bus.Error{Op: "write-block", Addr: addr, Err: bus.ErrBus}
	}
	for _, b := range bus.Chunks(addr, len(vs), bus.DefaultBurst) {
		_, err := srp.txn(opWrite, b.Addr, vs[b.Off:b.Off+b.N], b.N)
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeRequest(op uint32, tid, addr uint32, data []uint32, n int) []byte {
	size := srpHdrSize
	if op == opWrite || op == opPosted {
		size += 4 * len(data)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], srpVersion|op<<8|srpTimeout<<24)
	binary.LittleEndian.PutUint32(buf[4:], tid)
	binary.LittleEndian.PutUint32(buf[8:], addr)
	binary.LittleEndian.PutUint32(buf[12:], 0)
	binary.LittleEndian.PutUint32(buf[16:], uint32(4*n-1))
	if size > srpHdrSize {
		for i, v := range data {
			binary.LittleEndian.PutUint32(buf[srpHdrSize+4*i:], v)
		}
	}
	return buf
}

func (srp *SRP) txn(op uint32, addr uint32, data []uint32, n int) ([]uint32, error) {
	srp.mu.Lock()
	defer srp.mu.Unlock()

	name := "read"
	if op == opWrite {
		name = "write"
	}

	srp.tid++
	tid := srp.tid
	err := srp.card.write(stream.ChanRegister, encodeRequest(op, tid, addr, data, n))
	if err != nil {
		return nil, &bus.Error{Op: name, Addr: addr, Err: fmt.Errorf("%w: %v", bus.ErrBus, err)}
	}

	tmo := time.NewTimer(srp.timeout)
	defer tmo.Stop()
	for {
		var f stream.Frame
		select {
		case f = <-srp.card.vcs[stream.ChanRegister]:
		case <-srp.card.done:
			return nil, &bus.Error{Op: name, Addr: addr, Err: fmt.Errorf("%w: card closed", bus.ErrBus)}
		case <-tmo.C:
			return nil, &bus.Error{Op: name, Addr: addr, Err: bus.ErrTimeout}
		}

		vs, rtid, err := decodeResponse(f.Data, n)
		if err != nil {
			return nil, &bus.Error{Op: name, Addr: addr, Err: err}
		}
		if rtid != tid {
			srp.card.cfg.msg.Printf("discarding stale SRP response (tid=%d, want=%d)", rtid, tid)
			continue
		}
		return vs, nil
	}
}

func decodeResponse(p []byte, n int) ([]uint32, uint32, error) {
	if len(p) < srpHdrSize+4 || len(p)%4 != 0 {
		return nil, 0, fmt.Errorf("%w: invalid SRP response size %d", bus.ErrBus, len(p))
	}
	var (
		hdr    = binary.LittleEndian.Uint32(p[0:])
		tid    = binary.LittleEndian.Uint32(p[4:])
		footer = binary.LittleEndian.Uint32(p[len(p)-4:])
	)
	if hdr&0xff != srpVersion {
		return nil, tid, fmt.Errorf("%w: invalid SRP version 0x%x", bus.ErrBus, hdr&0xff)
	}
	switch {
	case footer&footerTmo != 0:
		return nil, tid, bus.ErrTimeout
	case footer&footerMask != 0:
		return nil, tid, fmt.Errorf("%w: SRP footer 0x%x", bus.ErrBus, footer&footerMask)
	}

	body := p[srpHdrSize : len(p)-4]
	if len(body) != 4*n {
		return nil, tid, fmt.Errorf("%w: SRP response with %d bytes (want=%d)", bus.ErrBus, len(body), 4*n)
	}
	vs := make([]uint32, n)
	for i := range vs {
		vs[i] = binary.LittleEndian.Uint32(body[4*i:])
	}
	return vs, tid, nil
}

var _ bus.Bus = (*SRP)(nil)
