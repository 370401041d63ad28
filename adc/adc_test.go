// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adc

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

func pattern(runs ...Window) []bool {
	pass := make([]bool, NumTaps)
	for _, w := range runs {
		for i := w.Start; i <= w.End; i++ {
			pass[i] = true
		}
	}
	return pass
}

func TestWindows(t *testing.T) {
	for _, tc := range []struct {
		name string
		pass []bool
		want []Window
		best Window
		mid  int
	}{
		{
			name: "two-windows",
			pass: pattern(Window{100, 199}, Window{300, 349}),
			want: []Window{{100, 199}, {300, 349}},
			best: Window{100, 199},
			mid:  149,
		},
		{
			name: "tie",
			pass: pattern(Window{10, 19}, Window{400, 409}),
			want: []Window{{10, 19}, {400, 409}},
			best: Window{10, 19},
			mid:  14,
		},
		{
			name: "edges",
			pass: pattern(Window{0, 4}, Window{500, 511}),
			want: []Window{{0, 4}, {500, 511}},
			best: Window{500, 511},
			mid:  505,
		},
		{
			name: "all",
			pass: pattern(Window{0, 511}),
			want: []Window{{0, 511}},
			best: Window{0, 511},
			mid:  255,
		},
		{
			name: "single-tap",
			pass: pattern(Window{42, 42}),
			want: []Window{{42, 42}},
			best: Window{42, 42},
			mid:  42,
		},
		{
			name: "none",
			pass: pattern(),
			want: nil,
			mid:  -1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ws := Windows(tc.pass)
			if !reflect.DeepEqual(ws, tc.want) {
				t.Fatalf("invalid windows: got=%v, want=%v", ws, tc.want)
			}
			best, ok := Best(ws)
			if tc.mid < 0 {
				if ok {
					t.Fatalf("unexpected window: %v", best)
				}
				return
			}
			if !ok {
				t.Fatalf("no window found")
			}
			if best != tc.best {
				t.Fatalf("invalid best window: got=%v, want=%v", best, tc.best)
			}
			if got, want := best.Mid(), tc.mid; got != want {
				t.Fatalf("invalid midpoint: got=%d, want=%d", got, want)
			}
		})
	}
}

// longest returns the midpoint of the longest run of true values,
// the earliest one on ties, or -1.
func longest(pass []bool) int {
	var (
		bestBeg = -1
		bestLen = 0
	)
	for i := 0; i < len(pass); i++ {
		if !pass[i] {
			continue
		}
		j := i
		for j < len(pass) && pass[j] {
			j++
		}
		if j-i > bestLen {
			bestBeg, bestLen = i, j-i
		}
		i = j
	}
	if bestBeg < 0 {
		return -1
	}
	return (bestBeg + bestBeg + bestLen - 1) / 2
}

func TestBestRandom(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		density := rnd.Float64()
		pass := make([]bool, NumTaps)
		for j := range pass {
			pass[j] = rnd.Float64() < density
		}
		t.Run(fmt.Sprintf("seq-%d", i), func(t *testing.T) {
			want := longest(pass)
			best, ok := Best(Windows(pass))
			got := -1
			if ok {
				got = best.Mid()
			}
			if got != want {
				t.Fatalf("invalid tap: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestLaneError(t *testing.T) {
	err := &LaneError{ADC: 2, Lane: 3, Kind: NoLock}
	if got, want := err.Error(), "adc: no-lock(2, 3)"; got != want {
		t.Fatalf("invalid error: got=%q, want=%q", got, want)
	}
	err = &LaneError{ADC: 1, Lane: 8, Kind: PatternFail}
	if got, want := err.Error(), "adc: pattern-fail(1, 8)"; got != want {
		t.Fatalf("invalid error: got=%q, want=%q", got, want)
	}
}
