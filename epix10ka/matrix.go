// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package epix10ka

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Matrix is a NumASICs x Rows x Cols grid of 4-bit pixel codes.
type Matrix struct {
	data [NumASICs * NumPixels]uint8
}

// NewMatrix returns a matrix with every pixel code set to zero.
func NewMatrix() *Matrix {
	return new(Matrix)
}

func index(asic, row, col int) int {
	if asic < 0 || asic >= NumASICs || row < 0 || row >= Rows || col < 0 || col >= Cols {
		panic(fmt.Errorf("epix10ka: index (%d, %d, %d) out of range", asic, row, col))
	}
	return (asic*Rows+row)*Cols + col
}

// At returns the pixel code at (asic, row, col).
func (m *Matrix) At(asic, row, col int) uint8 {
	return m.data[index(asic, row, col)]
}

// Set sets the pixel code at (asic, row, col).
// Only the low 4 bits of v are kept.
func (m *Matrix) Set(asic, row, col int, v uint8) {
	m.data[index(asic, row, col)] = v & 0xf
}

// Fill sets every pixel code, calibration rows included, to v.
func (m *Matrix) Fill(v uint8) {
	v &= 0xf
	for i := range m.data {
		m.data[i] = v
	}
}

// ASIC returns the row-major pixel codes of the i-th ASIC.
// The returned slice aliases the matrix.
func (m *Matrix) ASIC(i int) []uint8 {
	beg := i * NumPixels
	return m.data[beg : beg+NumPixels : beg+NumPixels]
}

// Equal reports whether both matrices hold the same pixel codes.
func (m *Matrix) Equal(o *Matrix) bool {
	return m.data == o.data
}

// Broadcast builds a matrix from values laid out row-major with the given
// shape. The accepted shapes are the trailing sub-shapes of
// (NumASICs, Rows, Cols): (), (Cols), (Rows, Cols) and (NumASICs, Rows, Cols).
// Smaller shapes are repeated over the leading axes.
func Broadcast(shape []int, values []uint8) (*Matrix, error) {
	full := [...]int{NumASICs, Rows, Cols}
	if len(shape) > len(full) {
		return nil, fmt.Errorf("%w: shape %v", ErrBadShape, shape)
	}
	n := 1
	for i, v := range shape {
		if v != full[len(full)-len(shape)+i] {
			return nil, fmt.Errorf("%w: shape %v", ErrBadShape, shape)
		}
		n *= v
	}
	if len(values) != n {
		return nil, fmt.Errorf(
			"%w: %d values for shape %v (want %d)",
			ErrBadShape, len(values), shape, n,
		)
	}
	for i, v := range values {
		if v > 0xf {
			return nil, fmt.Errorf("%w: value %d at index %d", ErrBadValue, v, i)
		}
	}

	m := NewMatrix()
	for i := range m.data {
		m.data[i] = values[i%n]
	}
	return m, nil
}

// GainMatrix returns a matrix selecting the provided gain mode on every
// pixel, calibration rows included.
func GainMatrix(mode GainMode) *Matrix {
	m := NewMatrix()
	m.Fill(mode.Code())
	return m
}

// ReadCSV reads a matrix from comma-separated rows of pixel codes.
//
// The input may hold a single row of Cols codes, Rows rows of Cols codes,
// or NumASICs*Rows rows of Cols codes. Smaller inputs are broadcast.
func ReadCSV(r io.Reader) (*Matrix, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		vals []uint8
		cols = -1
		rows = 0
	)
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, csv.ErrFieldCount) {
				return nil, fmt.Errorf("%w: ragged row %d", ErrBadShape, rows+1)
			}
			return nil, fmt.Errorf("epix10ka: could not read CSV row %d: %w", rows+1, err)
		}
		if cols < 0 {
			cols = len(rec)
			if cols != Cols {
				return nil, fmt.Errorf("%w: %d columns (want %d)", ErrBadShape, cols, Cols)
			}
		}
		rows++
		if rows > NumASICs*Rows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrBadShape, NumASICs*Rows)
		}
		for j, field := range rec {
			v, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil || v < 0 || v > 0xf {
				return nil, fmt.Errorf(
					"%w: %q at row %d, column %d",
					ErrBadValue, field, rows, j+1,
				)
			}
			vals = append(vals, uint8(v))
		}
	}

	var shape []int
	switch rows {
	case 1:
		shape = []int{Cols}
	case Rows:
		shape = []int{Rows, Cols}
	case NumASICs * Rows:
		shape = []int{NumASICs, Rows, Cols}
	default:
		return nil, fmt.Errorf("%w: %d rows", ErrBadShape, rows)
	}
	return Broadcast(shape, vals)
}

// WriteCSV writes the matrix as NumASICs*Rows comma-separated rows.
func (m *Matrix) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	rec := make([]string, Cols)
	for i := 0; i < NumASICs*Rows; i++ {
		row := m.data[i*Cols : (i+1)*Cols]
		for j, v := range row {
			rec[j] = strconv.Itoa(int(v))
		}
		err := cw.Write(rec)
		if err != nil {
			return fmt.Errorf("epix10ka: could not write CSV row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("epix10ka: could not flush CSV: %w", err)
	}
	return nil
}
