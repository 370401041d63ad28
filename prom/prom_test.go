// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/sim"
)

// record formats an Intel-HEX record with its checksum.
func record(typ byte, off uint16, data []byte) string {
	raw := append([]byte{byte(len(data)), byte(off >> 8), byte(off), typ}, data...)
	var sum byte
	for _, v := range raw {
		sum += v
	}
	raw = append(raw, -sum)
	return fmt.Sprintf(":%X\n", raw)
}

func mcs(base uint16, data []byte) string {
	o := new(strings.Builder)
	o.WriteString(record(recLinear, 0, []byte{byte(base >> 8), byte(base)}))
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		o.WriteString(record(recData, uint16(i), data[i:end]))
	}
	o.WriteString(record(recEOF, 0, nil))
	return o.String()
}

func payload(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + 3)
	}
	return out
}

func TestParseMCS(t *testing.T) {
	data := payload(1000)
	img, err := ParseMCS(strings.NewReader(mcs(0x0002, data)))
	if err != nil {
		t.Fatalf("could not parse MCS: %+v", err)
	}
	if got, want := img.Start, uint32(0x20000); got != want {
		t.Fatalf("invalid start: got=0x%x, want=0x%x", got, want)
	}
	if !bytes.Equal(img.Data, data) {
		t.Fatalf("invalid image content")
	}
	if got, want := img.End(), uint32(0x20000+1000); got != want {
		t.Fatalf("invalid end: got=0x%x, want=0x%x", got, want)
	}
}

func TestParseMCSGap(t *testing.T) {
	src := record(recData, 0x0000, []byte{1, 2}) +
		record(recData, 0x0004, []byte{5}) +
		record(recEOF, 0, nil)
	img, err := ParseMCS(strings.NewReader(src))
	if err != nil {
		t.Fatalf("could not parse MCS: %+v", err)
	}
	if got, want := img.Data, []byte{1, 2, 0xff, 0xff, 5}; !bytes.Equal(got, want) {
		t.Fatalf("invalid image: got=%x, want=%x", got, want)
	}
}

func TestParseMCSErrors(t *testing.T) {
	good := record(recData, 0, []byte{1, 2, 3})
	bad := []byte(good)
	bad[len(bad)-2] ^= 1 // corrupt checksum

	for _, tc := range []struct {
		name string
		src  string
		want string
	}{
		{"no-eof", good, "missing end-of-file record"},
		{"checksum", string(bad) + record(recEOF, 0, nil), "invalid checksum"},
		{"mark", "0300000001020300\n", "missing record mark"},
		{"hex", ":zz\n", "could not decode record"},
		{"length", ":0500000001F9\n", "invalid record length"},
		{"empty", record(recEOF, 0, nil), "empty MCS file"},
		{"after-eof", record(recEOF, 0, nil) + good, "data after end-of-file record"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMCS(strings.NewReader(tc.src))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("invalid error: got=%q, want=%q", err, tc.want)
			}
		})
	}
}

func newTestProgrammer(b bus.Bus) *Programmer {
	return NewProgrammer(b, WithLogger(log.New(io.Discard, "prom: ", 0)))
}

func TestProgram(t *testing.T) {
	cam := sim.New()
	img := &Image{Start: 0x10080, Data: payload(3000)}

	err := newTestProgrammer(cam).Program(context.Background(), img)
	if err != nil {
		t.Fatalf("could not program image: %+v", err)
	}
	if got := cam.PROM(img.Start, len(img.Data)); !bytes.Equal(got, img.Data) {
		t.Fatalf("invalid PROM content")
	}
	if got := cam.PROM(0x10000, 0x80); !bytes.Equal(got, bytes.Repeat([]byte{0xff}, 0x80)) {
		t.Fatalf("invalid PROM content before image start: %x", got)
	}
}

func TestProgramFault(t *testing.T) {
	cam := sim.New()
	cam.PROMFault(true)

	err := newTestProgrammer(cam).Program(context.Background(), &Image{Data: payload(10)})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.Contains(err.Error(), "could not erase sector") {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestVerifyMismatch(t *testing.T) {
	cam := sim.New()
	p := newTestProgrammer(cam)
	img := &Image{Data: payload(512)}

	err := p.Program(context.Background(), img)
	if err != nil {
		t.Fatalf("could not program image: %+v", err)
	}

	other := &Image{Data: payload(512)}
	other.Data[300] ^= 0xff
	err = p.Verify(context.Background(), other)
	if !errors.Is(err, bus.ErrVerify) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestProgramCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestProgrammer(sim.New()).Program(ctx, &Image{Data: payload(10)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestReload(t *testing.T) {
	cam := sim.New()
	err := newTestProgrammer(cam).Reload()
	if err != nil {
		t.Fatalf("could not reload: %+v", err)
	}
	if got, want := cam.Reloads(), 1; got != want {
		t.Fatalf("invalid number of reloads: got=%d, want=%d", got, want)
	}
}
