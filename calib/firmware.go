// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/regs"
)

// FirmwareStore persists calibrations in the non-volatile area of the
// camera firmware.
// The first word of the area holds the size in bytes of the envelope,
// the following words hold the envelope itself.
type FirmwareStore struct {
	bus bus.Bus
}

func NewFirmwareStore(b bus.Bus) *FirmwareStore {
	return &FirmwareStore{bus: b}
}

func (st *FirmwareStore) Load(ctx context.Context) (Table, error) {
	var tbl Table
	n, err := st.bus.ReadWord(regs.CALIB_NV_BASE)
	if err != nil {
		return tbl, fmt.Errorf("calib: could not read calibration size: %w", err)
	}
	if n == 0 || n == 0xffffffff {
		return tbl, ErrNotFound
	}
	if n > regs.CALIB_NV_SIZE-regs.WORD {
		return tbl, fmt.Errorf("%w: invalid size %d", ErrCorrupt, n)
	}

	words, err := st.bus.ReadBlock(regs.CALIB_NV_BASE+regs.WORD, int(n+regs.WORD-1)/regs.WORD)
	if err != nil {
		return tbl, fmt.Errorf("calib: could not read calibration: %w", err)
	}
	raw := make([]byte, len(words)*regs.WORD)
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[i*regs.WORD:], w)
	}

	err = tbl.UnmarshalBinary(raw[:n])
	return tbl, err
}

func (st *FirmwareStore) Save(ctx context.Context, tbl Table) error {
	raw, err := tbl.MarshalBinary()
	if err != nil {
		return err
	}
	if len(raw) > regs.CALIB_NV_SIZE-regs.WORD {
		return fmt.Errorf("calib: calibration too large (%d bytes)", len(raw))
	}

	words := make([]uint32, (len(raw)+regs.WORD-1)/regs.WORD)
	buf := make([]byte, len(words)*regs.WORD)
	copy(buf, raw)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*regs.WORD:])
	}

	// invalidate, write payload, then commit the size.
	err = st.bus.WriteWord(regs.CALIB_NV_BASE, 0)
	if err != nil {
		return fmt.Errorf("calib: could not invalidate calibration: %w", err)
	}
	err = st.bus.WriteBlock(regs.CALIB_NV_BASE+regs.WORD, words)
	if err != nil {
		return fmt.Errorf("calib: could not write calibration: %w", err)
	}
	err = st.bus.WriteWord(regs.CALIB_NV_BASE, uint32(len(raw)))
	if err != nil {
		return fmt.Errorf("calib: could not commit calibration: %w", err)
	}
	return nil
}

var (
	_ Store = (*FirmwareStore)(nil)
)
