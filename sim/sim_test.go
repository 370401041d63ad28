// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"bytes"
	"testing"

	"github.com/go-lpc/epix/internal/regs"
)

func TestRails(t *testing.T) {
	cam := New()
	if err := cam.WriteWord(regs.SYS_DCDC_EN, regs.DCDC_ALL); err != nil {
		t.Fatalf("could not enable rails: %+v", err)
	}
	v, err := cam.ReadWord(regs.SYS_RAILS_GOOD)
	if err != nil {
		t.Fatalf("could not read rails: %+v", err)
	}
	if got, want := v, uint32(regs.DCDC_ALL); got != want {
		t.Fatalf("invalid power-good: got=0x%x, want=0x%x", got, want)
	}

	cam.RailFault(true)
	v, err = cam.ReadWord(regs.SYS_RAILS_GOOD)
	if err != nil {
		t.Fatalf("could not read rails: %+v", err)
	}
	if v != 0 {
		t.Fatalf("invalid power-good under rail fault: got=0x%x", v)
	}
}

func TestSACISequence(t *testing.T) {
	for _, tc := range []struct {
		name  string
		write func(cam *Camera, bram uint32)
		code  uint32
	}{
		{
			name: "ok",
			write: func(cam *Camera, bram uint32) {
				_ = cam.WriteBlock(bram, make([]uint32, nWords))
			},
		},
		{
			name: "short",
			write: func(cam *Camera, bram uint32) {
				_ = cam.WriteBlock(bram, make([]uint32, 10))
			},
			code: CodeShort,
		},
		{
			name: "out-of-order",
			write: func(cam *Camera, bram uint32) {
				_ = cam.WriteWord(bram, 0)
				_ = cam.WriteBlock(bram+2*regs.WORD, make([]uint32, nWords-2))
			},
			code: CodeSequence,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cam := New()
			tc.write(cam, regs.AsicAddr(3)+regs.ASIC_BRAM)

			_ = cam.WriteWord(regs.SACI_CONF_SEL, 1<<3)
			_ = cam.WriteWord(regs.SACI_CONF_WR_REQ, 1)
			_ = cam.WriteWord(regs.SACI_CONF_WR_REQ, 0)

			for i := 0; i < cam.BusyPolls; i++ {
				v, _ := cam.ReadWord(regs.SACI_CONF_DONE_ALL)
				if v != 0 {
					t.Fatalf("poll %d: SACI core should be busy", i)
				}
			}
			v, _ := cam.ReadWord(regs.SACI_CONF_DONE_ALL)
			if v != 1 {
				t.Fatalf("SACI core should be done")
			}

			code, _ := cam.ReadWord(regs.SACI_FAIL_CODE)
			if got, want := code, tc.code; got != want {
				t.Fatalf("invalid failure code: got=0x%x, want=0x%x", got, want)
			}
			fail, _ := cam.ReadWord(regs.SACI_CONF_FAIL)
			if got, want := fail != 0, tc.code != 0; got != want {
				t.Fatalf("invalid failure mask: 0x%x", fail)
			}
		})
	}
}

func TestLanes(t *testing.T) {
	cam := New()
	lock := regs.RdoutAddr(1) + regs.RDOUT_LOCK
	frame := regs.RdoutAddr(1) + regs.RDOUT_FRAME_DELAY

	for _, tc := range []struct {
		tap  uint32
		want uint32
	}{
		{0, 3},
		{99, 3},
		{100, 1 << 16},
		{199, 1 << 16},
		{200, 3},
	} {
		_ = cam.WriteWord(frame, regs.DELAY_LOAD|tc.tap)
		v, _ := cam.ReadWord(lock)
		if v != tc.want {
			t.Fatalf("tap=%d: invalid lock status: got=0x%x, want=0x%x", tc.tap, v, tc.want)
		}
	}
	if got, want := cam.Tap(1, frameLane), 200; got != want {
		t.Fatalf("invalid tap: got=%d, want=%d", got, want)
	}

	_ = cam.WriteWord(frame, 42)
	if got, want := cam.Tap(1, frameLane), 200; got != want {
		t.Fatalf("delay loaded without load strobe: got=%d, want=%d", got, want)
	}
}

func TestBreakLane(t *testing.T) {
	cam := New()
	cam.BreakLane(0, frameLane, Window(0, nTaps))

	lock := regs.RdoutAddr(0) + regs.RDOUT_LOCK
	v, _ := cam.ReadWord(lock)
	if v&(1<<16) != 0 {
		t.Fatalf("broken lane should not lock")
	}

	_ = cam.WriteWord(regs.AdcCfgAddr(0)+regs.ADC_CFG_PDWN, regs.PDWN_RESET)
	_ = cam.WriteWord(regs.AdcCfgAddr(0)+regs.ADC_CFG_PDWN, 0)
	if got, want := cam.Resets(0), 1; got != want {
		t.Fatalf("invalid resets: got=%d, want=%d", got, want)
	}
	v, _ = cam.ReadWord(lock)
	if v&(1<<16) == 0 {
		t.Fatalf("lane should lock after reset")
	}
}

func TestTester(t *testing.T) {
	cam := New()
	setup := func(mode uint32) {
		_ = cam.WriteWord(regs.AdcCfgAddr(2)+regs.ADC_CFG_TEST, mode)
		_ = cam.WriteWord(regs.TESTER_PATTERN, regs.MIXED_PATTERN)
		_ = cam.WriteWord(regs.TESTER_MASK, regs.MIXED_MASK)
		_ = cam.WriteWord(regs.TESTER_SAMPLES, 100)
		_ = cam.WriteWord(regs.RdoutAddr(2)+regs.RDOUT_FRAME_DELAY, regs.DELAY_LOAD|150)
		_ = cam.WriteWord(regs.RdoutAddr(2)+regs.RDOUT_DATA_DELAY+4*regs.WORD, regs.DELAY_LOAD|150)
		_ = cam.WriteWord(regs.TESTER_CHANNEL, 2*nLanes+4)
		_ = cam.WriteWord(regs.TESTER_REQUEST, 1)
	}

	for _, tc := range []struct {
		mode   uint32
		passed uint32
	}{
		{regs.TEST_MODE_MIXED, 1},
		{regs.TEST_MODE_OFF, 0},
	} {
		setup(tc.mode)
		passed, _ := cam.ReadWord(regs.TESTER_PASSED)
		failed, _ := cam.ReadWord(regs.TESTER_FAILED)
		if passed != tc.passed || failed == tc.passed {
			t.Fatalf("mode=%d: invalid tester status: passed=%d, failed=%d", tc.mode, passed, failed)
		}
	}
	if got, want := cam.TesterRequests(), 2; got != want {
		t.Fatalf("invalid number of requests: got=%d, want=%d", got, want)
	}
}

func TestPROM(t *testing.T) {
	cam := New()
	page := make([]uint32, regs.PROM_PAGE/regs.WORD)
	for i := range page {
		page[i] = 0x03020100 + uint32(i)*0x04040404
	}

	_ = cam.WriteWord(regs.PROM_ADDR, 0x10000)
	_ = cam.WriteWord(regs.PROM_CMD, regs.PROM_CMD_ERASE)
	_ = cam.WriteBlock(regs.PROM_DATA, page)
	_ = cam.WriteWord(regs.PROM_CMD, regs.PROM_CMD_PROGRAM)

	want := make([]byte, regs.PROM_PAGE)
	for i := range want {
		want[i] = byte(i)
	}
	if got := cam.PROM(0x10000, regs.PROM_PAGE); !bytes.Equal(got, want) {
		t.Fatalf("invalid PROM content:\ngot= %x\nwant=%x", got, want)
	}

	_ = cam.WriteBlock(regs.PROM_DATA, make([]uint32, len(page)))
	_ = cam.WriteWord(regs.PROM_CMD, regs.PROM_CMD_READ)
	got, _ := cam.ReadBlock(regs.PROM_DATA, len(page))
	for i := range got {
		if got[i] != page[i] {
			t.Fatalf("word %d: invalid read-back: got=0x%08x, want=0x%08x", i, got[i], page[i])
		}
	}

	cam.PROMFault(true)
	_ = cam.WriteWord(regs.PROM_CMD, regs.PROM_CMD_READ)
	status, _ := cam.ReadWord(regs.PROM_STATUS)
	if status&regs.O_PROM_ERR == 0 {
		t.Fatalf("PROM fault not reported")
	}
}
