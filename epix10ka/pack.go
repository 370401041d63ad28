// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package epix10ka

// Pack packs row-major 4-bit pixel codes into 32-bit words,
// eight codes per word, least-significant nibble first.
func Pack(codes []uint8) []uint32 {
	out := make([]uint32, (len(codes)+7)/8)
	var w uint32
	for i, v := range codes {
		if i%8 == 0 {
			w = 0
		}
		w |= uint32(v&0xf) << (uint(i%8) * 4)
		out[i/8] = w
	}
	return out
}

// Unpack unpacks n pixel codes from words.
func Unpack(words []uint32, n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = uint8(words[i/8]>>(uint(i%8)*4)) & 0xf
	}
	return out
}
