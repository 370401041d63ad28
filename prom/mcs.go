// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prom

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const maxImageSize = 1 << 26

// Intel-HEX record types.
const (
	recData    = 0x00
	recEOF     = 0x01
	recSegment = 0x02
	recLinear  = 0x04
)

// Image is a firmware image, as a contiguous run of bytes.
// Gaps between records are filled with 0xff (erased flash).
type Image struct {
	Start uint32
	Data  []byte
}

// End returns the address one past the last byte of the image.
func (img *Image) End() uint32 { return img.Start + uint32(len(img.Data)) }

// ParseMCS reads a firmware image in the Intel-HEX (MCS) format.
func ParseMCS(r io.Reader) (*Image, error) {
	var (
		img  *Image
		base uint32
		eof  bool
		line = 0
		sc   = bufio.NewScanner(r)
	)
	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if txt == "" {
			continue
		}
		if eof {
			return nil, fmt.Errorf("prom: line %d: data after end-of-file record", line)
		}
		if txt[0] != ':' {
			return nil, fmt.Errorf("prom: line %d: missing record mark", line)
		}
		raw, err := hex.DecodeString(txt[1:])
		if err != nil {
			return nil, fmt.Errorf("prom: line %d: could not decode record: %w", line, err)
		}
		if len(raw) < 5 || len(raw) != 5+int(raw[0]) {
			return nil, fmt.Errorf("prom: line %d: invalid record length", line)
		}
		var sum byte
		for _, v := range raw {
			sum += v
		}
		if sum != 0 {
			return nil, fmt.Errorf("prom: line %d: invalid checksum", line)
		}

		var (
			n    = int(raw[0])
			off  = uint32(raw[1])<<8 | uint32(raw[2])
			typ  = raw[3]
			data = raw[4 : 4+n]
		)
		switch typ {
		case recData:
			addr := base + off
			if img == nil {
				img = &Image{Start: addr}
			}
			if addr < img.Start {
				return nil, fmt.Errorf("prom: line %d: record at 0x%08x before image start 0x%08x", line, addr, img.Start)
			}
			end := int(addr-img.Start) + n
			if end > maxImageSize {
				return nil, fmt.Errorf("prom: line %d: image too large", line)
			}
			for len(img.Data) < end {
				img.Data = append(img.Data, 0xff)
			}
			copy(img.Data[addr-img.Start:], data)

		case recEOF:
			eof = true

		case recSegment:
			if n != 2 {
				return nil, fmt.Errorf("prom: line %d: invalid segment address record", line)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 4

		case recLinear:
			if n != 2 {
				return nil, fmt.Errorf("prom: line %d: invalid linear address record", line)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 16

		default:
			// start-address records (03, 05) carry no PROM content.
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("prom: could not scan MCS file: %w", err)
	}
	if !eof {
		return nil, fmt.Errorf("prom: missing end-of-file record")
	}
	if img == nil {
		return nil, fmt.Errorf("prom: empty MCS file")
	}
	return img, nil
}
