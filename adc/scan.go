// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adc

import (
	"fmt"
	"io"

	"go-hep.org/x/hep/hbook"
)

// ScanHist returns a histogram of the passing taps of a lane sweep.
func ScanHist(lr LaneResult) *hbook.H1D {
	h := hbook.NewH1D(NumTaps, 0, NumTaps)
	h.Ann["name"] = fmt.Sprintf("adc-%d-lane-%d", lr.ADC, lr.Lane)
	h.Ann["title"] = fmt.Sprintf("ADC %d, lane %d: tap=%d", lr.ADC, lr.Lane, lr.Tap)
	for tap, ok := range lr.Scan {
		if ok {
			h.Fill(float64(tap)+0.5, 1)
		}
	}
	return h
}

// WriteScans writes the lane sweeps of a training run as YODA histograms.
func WriteScans(w io.Writer, res *Result) error {
	for _, lr := range res.Lanes {
		if lr.Scan == nil {
			continue
		}
		raw, err := ScanHist(lr).MarshalYODA()
		if err != nil {
			return fmt.Errorf("adc: could not marshal scan of ADC %d, lane %d: %w", lr.ADC, lr.Lane, err)
		}
		_, err = w.Write(raw)
		if err != nil {
			return fmt.Errorf("adc: could not write scan of ADC %d, lane %d: %w", lr.ADC, lr.Lane, err)
		}
	}
	return nil
}
