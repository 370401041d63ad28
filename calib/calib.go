// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calib holds the persisted ADC lane delay calibration.
//
// A calibration is serialized as:
//
//	[version u8][count u16][count x (adc u8, lane u8, tap u16)][crc16 u16]
//
// with multi-byte values in big-endian order, and a CRC-16/CCITT-FALSE
// checksum of all the preceding bytes.
package calib // import "github.com/go-lpc/epix/calib"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/go-lpc/epix/internal/crc16"
)

// Version is the current version of the calibration envelope.
const Version = 1

const (
	nLanes = 9   // lanes per ADC, frame lane included
	nTaps  = 512 // delay taps per lane

	hdrSize   = 3
	entrySize = 4
	crcSize   = crc16.Size
)

var (
	ErrCorrupt  = errors.New("calib: corrupt calibration")
	ErrVersion  = errors.New("calib: unsupported calibration version")
	ErrNotFound = errors.New("calib: no persisted calibration")
)

// Entry is the delay tap chosen for one ADC lane.
type Entry struct {
	ADC  uint8
	Lane uint8
	Tap  uint16
}

// Table is a set of lane delay taps.
type Table struct {
	Version uint8
	Entries []Entry
}

// New returns an empty table with the current version.
func New() Table {
	return Table{Version: Version}
}

// Set records the tap of a lane, replacing any previous value.
func (tbl *Table) Set(adc, lane, tap int) {
	e := Entry{ADC: uint8(adc), Lane: uint8(lane), Tap: uint16(tap)}
	for i := range tbl.Entries {
		if int(tbl.Entries[i].ADC) == adc && int(tbl.Entries[i].Lane) == lane {
			tbl.Entries[i] = e
			return
		}
	}
	tbl.Entries = append(tbl.Entries, e)
	sort.Slice(tbl.Entries, func(i, j int) bool {
		ei, ej := tbl.Entries[i], tbl.Entries[j]
		if ei.ADC != ej.ADC {
			return ei.ADC < ej.ADC
		}
		return ei.Lane < ej.Lane
	})
}

// Lookup returns the tap of a lane.
func (tbl Table) Lookup(adc, lane int) (int, bool) {
	for _, e := range tbl.Entries {
		if int(e.ADC) == adc && int(e.Lane) == lane {
			return int(e.Tap), true
		}
	}
	return 0, false
}

// Complete reports whether the table is acceptable to configure the
// provided ADCs without training: it must be of the current version and
// hold a valid tap for every lane of every ADC.
func (tbl Table) Complete(adcs []int) bool {
	if tbl.Version != Version {
		return false
	}
	for _, adc := range adcs {
		for lane := 0; lane < nLanes; lane++ {
			tap, ok := tbl.Lookup(adc, lane)
			if !ok || tap >= nTaps {
				return false
			}
		}
	}
	return true
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (tbl Table) MarshalBinary() ([]byte, error) {
	if len(tbl.Entries) > 0xffff {
		return nil, fmt.Errorf("calib: too many entries (%d)", len(tbl.Entries))
	}
	buf := make([]byte, hdrSize+entrySize*len(tbl.Entries)+crcSize)
	buf[0] = tbl.Version
	binary.BigEndian.PutUint16(buf[1:], uint16(len(tbl.Entries)))
	p := buf[hdrSize:]
	for _, e := range tbl.Entries {
		p[0] = e.ADC
		p[1] = e.Lane
		binary.BigEndian.PutUint16(p[2:], e.Tap)
		p = p[entrySize:]
	}
	binary.BigEndian.PutUint16(p, crc16.Checksum(buf[:len(buf)-crcSize]))
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (tbl *Table) UnmarshalBinary(p []byte) error {
	if len(p) < hdrSize+crcSize {
		return fmt.Errorf("%w: short buffer (%d bytes)", ErrCorrupt, len(p))
	}
	n := int(binary.BigEndian.Uint16(p[1:]))
	if len(p) != hdrSize+entrySize*n+crcSize {
		return fmt.Errorf("%w: invalid size (%d bytes for %d entries)", ErrCorrupt, len(p), n)
	}
	var (
		body = p[:len(p)-crcSize]
		sum  = binary.BigEndian.Uint16(p[len(p)-crcSize:])
	)
	if got := crc16.Checksum(body); got != sum {
		return fmt.Errorf("%w: checksum mismatch (got=0x%04x, want=0x%04x)", ErrCorrupt, got, sum)
	}
	if p[0] != Version {
		return fmt.Errorf("%w: %d", ErrVersion, p[0])
	}

	tbl.Version = p[0]
	tbl.Entries = make([]Entry, n)
	body = body[hdrSize:]
	for i := range tbl.Entries {
		tbl.Entries[i] = Entry{
			ADC:  body[0],
			Lane: body[1],
			Tap:  binary.BigEndian.Uint16(body[2:]),
		}
		body = body[entrySize:]
	}
	return nil
}

// Store persists calibration tables.
type Store interface {
	// Load returns the persisted table, or ErrNotFound.
	Load(ctx context.Context) (Table, error)
	Save(ctx context.Context, tbl Table) error
}

// MemStore is an in-memory calibration store.
type MemStore struct {
	raw []byte
}

func (st *MemStore) Load(ctx context.Context) (Table, error) {
	var tbl Table
	if st.raw == nil {
		return tbl, ErrNotFound
	}
	err := tbl.UnmarshalBinary(st.raw)
	return tbl, err
}

func (st *MemStore) Save(ctx context.Context, tbl Table) error {
	raw, err := tbl.MarshalBinary()
	if err != nil {
		return err
	}
	st.raw = raw
	return nil
}

var (
	_ Store = (*MemStore)(nil)
)
