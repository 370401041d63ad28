// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prom programs the configuration PROM of the camera FPGA and
// triggers its reload.
package prom // import "github.com/go-lpc/epix/prom"

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/poll"
	"github.com/go-lpc/epix/internal/regs"
	"github.com/go-lpc/epix/reg"
)

type config struct {
	msg     *log.Logger
	period  time.Duration
	timeout time.Duration // per command
}

// Option configures a Programmer.
type Option func(*config)

// WithLogger sets the logger of the programmer.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithTimeout sets the deadline of a single erase, program or read command.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// Programmer drives the PROM controller of the camera.
type Programmer struct {
	regs *reg.Regs
	cfg  config

	addr   reg.Reg32
	cmd    reg.Reg32
	status reg.Reg32
}

func NewProgrammer(b bus.Bus, opts ...Option) *Programmer {
	cfg := config{
		msg:     log.New(os.Stdout, "prom: ", 0),
		period:  time.Millisecond,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := reg.NewRegs(b)
	return &Programmer{
		regs:   r,
		cfg:    cfg,
		addr:   r.Pin(regs.PROM_ADDR),
		cmd:    r.Pin(regs.PROM_CMD),
		status: r.Pin(regs.PROM_STATUS),
	}
}

func (p *Programmer) exec(ctx context.Context, cmd, addr uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.regs.Reset()
	p.addr.W(addr)
	p.cmd.W(cmd)
	if err := p.regs.Err(); err != nil {
		return err
	}

	var status uint32
	ok, err := poll.Until(ctx, p.cfg.period, p.cfg.timeout, func() (bool, error) {
		status = p.status.R()
		return status&regs.O_PROM_BUSY == 0, p.regs.Err()
	})
	switch {
	case err != nil:
		return err
	case !ok:
		return &bus.Error{Op: "prom", Addr: addr, Err: bus.ErrTimeout}
	case status&regs.O_PROM_ERR != 0:
		return fmt.Errorf("prom: command %d failed at 0x%08x", cmd, addr)
	}
	return nil
}

func pages(img *Image) (beg, end uint32) {
	beg = img.Start &^ (regs.PROM_PAGE - 1)
	end = (img.End() + regs.PROM_PAGE - 1) &^ (regs.PROM_PAGE - 1)
	return beg, end
}

// page returns the PROM content of the image for the page at addr.
func page(img *Image, addr uint32) []byte {
	buf := bytes.Repeat([]byte{0xff}, regs.PROM_PAGE)
	for i := range buf {
		a := addr + uint32(i)
		if a >= img.Start && a < img.End() {
			buf[i] = img.Data[a-img.Start]
		}
	}
	return buf
}

func erased(p []byte) bool {
	for _, v := range p {
		if v != 0xff {
			return false
		}
	}
	return true
}

// Program erases the sectors spanned by the image, writes its pages and
// reads them back for verification.
func (p *Programmer) Program(ctx context.Context, img *Image) error {
	if img == nil || len(img.Data) == 0 {
		return fmt.Errorf("prom: empty firmware image")
	}
	beg, end := pages(img)

	start := time.Now()
	p.cfg.msg.Printf("erasing [0x%08x, 0x%08x)...", beg, end)
	for sec := beg &^ (regs.PROM_SECTOR - 1); sec < end; sec += regs.PROM_SECTOR {
		err := p.exec(ctx, regs.PROM_CMD_ERASE, sec)
		if err != nil {
			return fmt.Errorf("prom: could not erase sector 0x%08x: %w", sec, err)
		}
	}
	p.cfg.msg.Printf("erasing [0x%08x, 0x%08x)... [done]", beg, end)

	p.cfg.msg.Printf("programming %d bytes...", len(img.Data))
	words := make([]uint32, regs.PROM_PAGE/regs.WORD)
	for addr := beg; addr < end; addr += regs.PROM_PAGE {
		buf := page(img, addr)
		if erased(buf) {
			continue
		}
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(buf[i*regs.WORD:])
		}
		p.regs.Reset()
		p.regs.WriteBlock(regs.PROM_DATA, words)
		if err := p.regs.Err(); err != nil {
			return fmt.Errorf("prom: could not load page 0x%08x: %w", addr, err)
		}
		err := p.exec(ctx, regs.PROM_CMD_PROGRAM, addr)
		if err != nil {
			return fmt.Errorf("prom: could not program page 0x%08x: %w", addr, err)
		}
	}
	p.cfg.msg.Printf("programming %d bytes... [done]", len(img.Data))

	err := p.Verify(ctx, img)
	if err != nil {
		return err
	}
	p.cfg.msg.Printf("firmware image written in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

// Verify reads back the PROM and compares it with the image.
func (p *Programmer) Verify(ctx context.Context, img *Image) error {
	beg, end := pages(img)
	got := make([]byte, regs.PROM_PAGE)
	for addr := beg; addr < end; addr += regs.PROM_PAGE {
		err := p.exec(ctx, regs.PROM_CMD_READ, addr)
		if err != nil {
			return fmt.Errorf("prom: could not read page 0x%08x: %w", addr, err)
		}
		p.regs.Reset()
		words := p.regs.ReadBlock(regs.PROM_DATA, regs.PROM_PAGE/regs.WORD)
		if err := p.regs.Err(); err != nil {
			return fmt.Errorf("prom: could not read page 0x%08x: %w", addr, err)
		}
		for i, w := range words {
			binary.LittleEndian.PutUint32(got[i*regs.WORD:], w)
		}
		want := page(img, addr)
		if !bytes.Equal(got, want) {
			return fmt.Errorf(
				"prom: page 0x%08x differs from image: %w", addr,
				&bus.Error{Op: "verify", Addr: addr, Err: bus.ErrVerify},
			)
		}
	}
	return nil
}

// Reload requests the FPGA to reconfigure itself from the PROM.
// The register transport is lost until the FPGA is back up.
func (p *Programmer) Reload() error {
	p.regs.Reset()
	p.regs.Write(regs.VERSION_RELOAD_ADDR, 0)
	p.regs.Write(regs.VERSION_FPGA_RELOAD, 1)
	if err := p.regs.Err(); err != nil {
		return fmt.Errorf("prom: could not request FPGA reload: %w", err)
	}
	p.cfg.msg.Printf("FPGA reload requested")
	return nil
}
