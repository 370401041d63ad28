// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package epix10ka configures the pixel matrices of the ePix10ka ASICs
// of a quad camera.
//
// Pixel configuration codes are packed into a per-ASIC buffer in the
// FPGA and broadcast into the selected ASICs by the SACI configuration
// core of the firmware.
package epix10ka // import "github.com/go-lpc/epix/epix10ka"

import (
	"errors"
	"fmt"
)

const (
	NumASICs = 16  // number of ASICs of a quad camera
	Rows     = 178 // rows of a pixel matrix, calibration rows included
	Cols     = 192 // columns of a pixel matrix

	CalibRow0 = 176 // first calibration row
	CalibRow1 = 177 // second calibration row

	// NumPixels is the number of pixel codes of one ASIC.
	NumPixels = Rows * Cols

	// NumWords is the number of 32-bit words of a packed pixel buffer.
	NumWords = (NumPixels + 7) / 8

	// AllASICs selects every ASIC of the camera.
	AllASICs uint16 = 1<<NumASICs - 1
)

var (
	ErrBadShape = errors.New("epix10ka: bad-shape")
	ErrBadValue = errors.New("epix10ka: bad-value")
)

// Pixel code bits.
const (
	CodeTest = 0x1 // test-pulse injection
	CodeMask = 0x2 // masked pixel

	codeGainMask = 0xc
)

// GainMode is the gain configuration of a pixel.
type GainMode uint8

const (
	FixedHigh GainMode = iota
	FixedMedium
	FixedLow
	AutoHighLow
	AutoMediumLow
	ResetHigh
	ResetMedium
)

var gainModes = [...]struct {
	name  string
	code  uint8
	trbit uint32
}{
	FixedHigh:     {"fixed-high", 0xc, 1},
	FixedMedium:   {"fixed-medium", 0xc, 0},
	FixedLow:      {"fixed-low", 0x8, 0},
	AutoHighLow:   {"auto-high-low", 0x0, 1},
	AutoMediumLow: {"auto-medium-low", 0x0, 0},
	ResetHigh:     {"reset-high", 0x4, 1},
	ResetMedium:   {"reset-medium", 0x4, 0},
}

func (g GainMode) valid() bool { return int(g) < len(gainModes) }

func (g GainMode) String() string {
	if !g.valid() {
		return fmt.Sprintf("GainMode(%d)", uint8(g))
	}
	return gainModes[g].name
}

// Code returns the pixel code selecting the gain mode.
func (g GainMode) Code() uint8 { return gainModes[g].code }

// Trbit returns the value of the ASIC trbit register selecting the gain mode.
func (g GainMode) Trbit() uint32 { return gainModes[g].trbit }

// ParseGainMode returns the gain mode with the provided name.
func ParseGainMode(name string) (GainMode, error) {
	for i, g := range gainModes {
		if g.name == name {
			return GainMode(i), nil
		}
	}
	return 0, fmt.Errorf("epix10ka: unknown gain mode %q", name)
}

// GainOf returns the gain mode encoded by a pixel code and an ASIC trbit.
func GainOf(code uint8, trbit uint32) GainMode {
	switch code & codeGainMask {
	case 0xc:
		if trbit != 0 {
			return FixedHigh
		}
		return FixedMedium
	case 0x8:
		return FixedLow
	case 0x4:
		if trbit != 0 {
			return ResetHigh
		}
		return ResetMedium
	default:
		if trbit != 0 {
			return AutoHighLow
		}
		return AutoMediumLow
	}
}
