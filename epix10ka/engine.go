// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package epix10ka

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/internal/poll"
	"github.com/go-lpc/epix/internal/regs"
	"github.com/go-lpc/epix/reg"
)

// Result is the outcome of a pixel matrix configuration.
type Result struct {
	Selected uint16 // ASICs selected for configuration
	Done     uint16 // ASICs whose configuration completed
	Failed   uint16 // ASICs whose configuration failed
	FailCode uint32 // last failure code reported by the SACI core
	Timeout  bool   // whether completion was not observed before the deadline
}

// OK reports whether every selected ASIC was configured.
func (r Result) OK() bool {
	return !r.Timeout && r.Failed&r.Selected == 0 && r.Done&r.Selected == r.Selected
}

// ConfigError reports ASICs whose pixel configuration failed.
type ConfigError struct {
	Failed  uint16
	Done    uint16
	Code    uint32
	Timeout bool
}

func (e *ConfigError) Error() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "epix10ka: asic-config-failed(mask=0x%04x, done=0x%04x, code=0x%x)", e.Failed, e.Done, e.Code)
	if e.Timeout {
		o.WriteString(": timeout")
	}
	return o.String()
}

type config struct {
	timeout time.Duration
	period  time.Duration
	msg     *log.Logger
}

func newConfig() config {
	return config{
		timeout: 5 * time.Second,
		period:  10 * time.Millisecond,
		msg:     log.New(os.Stdout, "epix10ka: ", 0),
	}
}

// Option configures an Engine.
type Option func(*config)

// WithTimeout sets the deadline for the completion of a SACI broadcast.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithPollPeriod sets the period of the completion polling.
func WithPollPeriod(d time.Duration) Option {
	return func(cfg *config) {
		cfg.period = d
	}
}

// WithLogger sets the logger of the configuration engine.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// Engine applies pixel matrices to the ASICs of a camera.
type Engine struct {
	bus   bus.Bus
	saci  *reg.Device
	asics [NumASICs]*ASIC
	cfg   config
}

// NewEngine creates a pixel matrix configuration engine on the provided bus.
func NewEngine(b bus.Bus, opts ...Option) *Engine {
	eng := &Engine{
		bus:  b,
		saci: reg.NewDevice("saci", b, regs.SACI_BASE, saciRegs),
		cfg:  newConfig(),
	}
	for _, opt := range opts {
		opt(&eng.cfg)
	}
	for i := range eng.asics {
		eng.asics[i] = newASIC(b, i)
	}
	return eng
}

// ASIC returns the register facade of the i-th ASIC.
func (eng *Engine) ASIC(i int) *ASIC {
	return eng.asics[i]
}

// SACI returns the register facade of the SACI configuration core.
func (eng *Engine) SACI() *reg.Device {
	return eng.saci
}

func selected(mask uint16) []int {
	var ids []int
	for i := 0; i < NumASICs; i++ {
		if mask&(1<<i) != 0 {
			ids = append(ids, i)
		}
	}
	return ids
}

// ApplyMatrix writes the pixel codes of every ASIC selected by mask,
// then broadcasts them into the ASICs and waits for completion.
// The ConfWrReq broadcast rewrites the internal pixel configuration of
// each selected ASIC from its buffer; unselected ASICs keep theirs.
//
// Bus failures abort the operation and leave the pixel state undefined.
// ASICs reported as failed by the firmware are returned in the Result
// together with a *ConfigError.
func (eng *Engine) ApplyMatrix(ctx context.Context, m *Matrix, mask uint16) (Result, error) {
	res := Result{Selected: mask}
	if m == nil {
		return res, fmt.Errorf("%w: nil matrix", ErrBadShape)
	}
	if mask == 0 {
		return res, nil
	}

	eng.cfg.msg.Printf("apply pixel matrix (asics=0x%04x)...", mask)
	start := time.Now()

	for _, i := range selected(mask) {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("epix10ka: could not apply pixel matrix: %w", err)
		}
		asic := eng.asics[i]
		err := eng.bus.WriteBlock(asic.BRAM(), Pack(m.ASIC(i)))
		if err != nil {
			return res, fmt.Errorf(
				"epix10ka: could not write pixel buffer of ASIC %d: %w", i, err,
			)
		}
	}

	err := eng.broadcast(ctx, "ConfWrReq", &res)
	if err != nil {
		return res, fmt.Errorf("epix10ka: could not apply pixel matrix: %w", err)
	}

	if !res.OK() {
		eng.cfg.msg.Printf(
			"apply pixel matrix (asics=0x%04x)... [fail=0x%04x, code=0x%x]",
			mask, res.Failed, res.FailCode,
		)
		return res, &ConfigError{
			Failed:  res.Failed | (res.Selected &^ res.Done),
			Done:    res.Done,
			Code:    res.FailCode,
			Timeout: res.Timeout,
		}
	}

	eng.cfg.msg.Printf("apply pixel matrix (asics=0x%04x)... [done] (%v)", mask, time.Since(start))
	return res, nil
}

// broadcast selects the ASICs, pulses the request strobe and waits
// for the SACI core to complete.
func (eng *Engine) broadcast(ctx context.Context, req string, res *Result) error {
	err := eng.saci.Set("ConfSel", uint32(res.Selected))
	if err != nil {
		return fmt.Errorf("could not select ASICs: %w", err)
	}

	err = eng.saci.Pulse(req)
	if err != nil {
		return fmt.Errorf("could not request SACI transfer: %w", err)
	}

	ok, err := poll.Until(ctx, eng.cfg.period, eng.cfg.timeout, func() (bool, error) {
		v, err := eng.saci.Get("ConfDoneAll")
		return v == 1, err
	})
	if err != nil {
		return fmt.Errorf("could not wait for SACI completion: %w", err)
	}
	res.Timeout = !ok

	done, err := eng.saci.Get("ConfDone")
	if err != nil {
		return fmt.Errorf("could not read SACI status: %w", err)
	}
	fail, err := eng.saci.Get("ConfFail")
	if err != nil {
		return fmt.Errorf("could not read SACI status: %w", err)
	}
	code, err := eng.saci.Get("regFailCode")
	if err != nil {
		return fmt.Errorf("could not read SACI status: %w", err)
	}

	res.Done = uint16(done) & res.Selected
	res.Failed = uint16(fail) & res.Selected
	res.FailCode = code
	return nil
}

// VerifyMatrix reads back the pixel configuration of the selected ASICs
// and compares it with m.
// Mismatches are reported as bus.ErrVerify errors.
func (eng *Engine) VerifyMatrix(ctx context.Context, m *Matrix, mask uint16) error {
	if m == nil {
		return fmt.Errorf("%w: nil matrix", ErrBadShape)
	}
	if mask == 0 {
		return nil
	}

	res := Result{Selected: mask}
	err := eng.broadcast(ctx, "ConfRdReq", &res)
	if err != nil {
		return fmt.Errorf("epix10ka: could not read back pixel matrix: %w", err)
	}
	if !res.OK() {
		return fmt.Errorf("epix10ka: could not read back pixel matrix: %w", &ConfigError{
			Failed:  res.Failed | (res.Selected &^ res.Done),
			Done:    res.Done,
			Code:    res.FailCode,
			Timeout: res.Timeout,
		})
	}

	var bad uint16
	for _, i := range selected(mask) {
		got, err := eng.bus.ReadBlock(eng.asics[i].BRAM(), NumWords)
		if err != nil {
			return fmt.Errorf(
				"epix10ka: could not read pixel buffer of ASIC %d: %w", i, err,
			)
		}
		want := Pack(m.ASIC(i))
		for j := range want {
			if got[j] != want[j] {
				eng.cfg.msg.Printf(
					"ASIC %d: pixel buffer mismatch at word %d: got=0x%08x, want=0x%08x",
					i, j, got[j], want[j],
				)
				bad |= 1 << i
				break
			}
		}
	}

	if bad != 0 {
		return fmt.Errorf(
			"epix10ka: pixel matrix mismatch (asics=0x%04x): %w",
			bad, &bus.Error{Op: "verify", Addr: regs.ASIC_BASE, Err: bus.ErrVerify},
		)
	}
	return nil
}

// ClearMatrix resets every pixel code of the selected ASICs to zero.
func (eng *Engine) ClearMatrix(ctx context.Context, mask uint16) (Result, error) {
	return eng.ApplyMatrix(ctx, NewMatrix(), mask)
}

// SetGainMode programs the trbit of the selected ASICs and applies the
// matching uniform pixel matrix.
func (eng *Engine) SetGainMode(ctx context.Context, mode GainMode, mask uint16) (Result, error) {
	if !mode.valid() {
		return Result{Selected: mask}, fmt.Errorf("%w: gain mode %d", ErrBadValue, mode)
	}
	for _, i := range selected(mask) {
		err := eng.asics[i].SetTrbit(mode.Trbit())
		if err != nil {
			return Result{Selected: mask}, fmt.Errorf(
				"epix10ka: could not set gain mode %v of ASIC %d: %w", mode, i, err,
			)
		}
	}
	return eng.ApplyMatrix(ctx, GainMatrix(mode), mask)
}
