// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adc

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/calib"
	"github.com/go-lpc/epix/internal/poll"
	"github.com/go-lpc/epix/internal/regs"
)

type config struct {
	dwell     time.Duration // time spent on each frame-lane tap
	resetWait time.Duration // settling time around an ADC soft reset
	period    time.Duration // pattern tester polling period
	testWait  time.Duration // pattern tester deadline
	samples   uint32        // pattern tester sample count
	attempts  int           // sweeps per lane, with an ADC reset in between
	msg       *log.Logger
}

func newTrainerConfig() config {
	return config{
		dwell:     5 * time.Millisecond,
		resetWait: 1 * time.Second,
		period:    100 * time.Microsecond,
		testWait:  100 * time.Millisecond,
		samples:   10000,
		attempts:  2,
		msg:       log.New(os.Stdout, "adc: ", 0),
	}
}

// Option configures a Trainer.
type Option func(*config)

// WithDwell sets the time spent on each candidate tap of a frame lane.
func WithDwell(d time.Duration) Option {
	return func(cfg *config) {
		cfg.dwell = d
	}
}

// WithResetWait sets the settling time after asserting and after
// clearing an ADC soft reset.
func WithResetWait(d time.Duration) Option {
	return func(cfg *config) {
		cfg.resetWait = d
	}
}

// WithPatternTest configures the pattern tester sample count and deadline.
func WithPatternTest(samples uint32, timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.samples = samples
		cfg.testWait = timeout
	}
}

// WithAttempts sets the number of sweeps of a lane before giving up.
// An ADC soft reset is issued between consecutive sweeps.
func WithAttempts(n int) Option {
	return func(cfg *config) {
		if n < 1 {
			n = 1
		}
		cfg.attempts = n
	}
}

// WithLogger sets the logger of the trainer.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// LaneResult is the outcome of the training of one lane.
type LaneResult struct {
	ADC      int
	Lane     int
	Tap      int    // committed tap, valid when Err is nil
	Window   Window // chosen window, valid when Err is nil
	Scan     []bool // per-tap predicate of the last sweep
	Attempts int
	Err      *LaneError
}

// Result is the outcome of a training run.
type Result struct {
	Lanes []LaneResult
}

// Failed returns the lanes for which no tap was found.
func (res *Result) Failed() []*LaneError {
	var out []*LaneError
	for _, lane := range res.Lanes {
		if lane.Err != nil {
			out = append(out, lane.Err)
		}
	}
	return out
}

// Err returns the first lane failure, if any.
func (res *Result) Err() error {
	errs := res.Failed()
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("%w (and %d more failed lanes)", errs[0], len(errs)-1)
	}
}

// Table returns the calibration of the successfully trained lanes.
func (res *Result) Table() calib.Table {
	tbl := calib.New()
	for _, lane := range res.Lanes {
		if lane.Err == nil {
			tbl.Set(lane.ADC, lane.Lane, lane.Tap)
		}
	}
	return tbl
}

// Trainer trains the deserializer delays of the camera ADCs.
type Trainer struct {
	rdout  [NumADCs]Readout
	adcs   [NumADCs]Config
	tester Tester
	cfg    config
}

// NewTrainer creates a trainer on the provided bus.
func NewTrainer(b bus.Bus, opts ...Option) *Trainer {
	tr := &Trainer{
		tester: newTester(b),
		cfg:    newTrainerConfig(),
	}
	for _, opt := range opts {
		opt(&tr.cfg)
	}
	for i := range tr.rdout {
		tr.rdout[i] = newReadout(b, i)
		tr.adcs[i] = newConfig(b, i)
	}
	return tr
}

// Readout returns the deserializer facade of the i-th ADC.
func (tr *Trainer) Readout(i int) Readout { return tr.rdout[i] }

// Config returns the configuration facade of the i-th ADC.
func (tr *Trainer) Config(i int) Config { return tr.adcs[i] }

// AllADCs returns the indices of every ADC.
func AllADCs() []int {
	out := make([]int, NumADCs)
	for i := range out {
		out[i] = i
	}
	return out
}

// AllLanes returns the indices of every lane, frame lane included.
func AllLanes() []int {
	out := make([]int, NumLanes)
	for i := range out {
		out[i] = i
	}
	return out
}

func checkRange(adcs, lanes []int) error {
	for _, adc := range adcs {
		if adc < 0 || adc >= NumADCs {
			return fmt.Errorf("adc: invalid ADC index %d", adc)
		}
	}
	for _, lane := range lanes {
		if lane < 0 || lane >= NumLanes {
			return fmt.Errorf("adc: invalid lane index %d", lane)
		}
	}
	return nil
}

// Train trains the requested lanes of the requested ADCs.
//
// ADCs are trained one after the other. Within an ADC, the frame lane
// is trained and committed before any data lane; when it cannot lock,
// the data lanes of that ADC are reported as NoLock without a sweep.
// Lanes without a passing tap are reported in the result and do not
// abort the run; transport errors and cancellation do.
func (tr *Trainer) Train(ctx context.Context, adcs, lanes []int) (*Result, error) {
	res := new(Result)
	err := checkRange(adcs, lanes)
	if err != nil {
		return res, err
	}

	var (
		frame bool
		data  []int
	)
	for _, lane := range lanes {
		switch lane {
		case FrameLane:
			frame = true
		default:
			data = append(data, lane)
		}
	}

	for _, adc := range adcs {
		if frame {
			lr, err := tr.trainLane(ctx, adc, FrameLane)
			res.Lanes = append(res.Lanes, lr)
			if err != nil {
				return res, err
			}
			if lr.Err != nil {
				tr.cfg.msg.Printf("ADC %d: frame lane not locked, skipping data lanes", adc)
				for _, lane := range data {
					res.Lanes = append(res.Lanes, LaneResult{
						ADC:  adc,
						Lane: lane,
						Err:  &LaneError{ADC: adc, Lane: lane, Kind: NoLock},
					})
				}
				continue
			}
		}

		if len(data) == 0 {
			continue
		}

		for _, lane := range data {
			lr, err := tr.trainLane(ctx, adc, lane)
			res.Lanes = append(res.Lanes, lr)
			if err != nil {
				if e := tr.adcs[adc].Set("OutputTestMode", regs.TEST_MODE_OFF); e != nil {
					tr.cfg.msg.Printf("could not leave test mode of ADC %d: %+v", adc, e)
				}
				return res, err
			}
		}

		err := tr.adcs[adc].Set("OutputTestMode", regs.TEST_MODE_OFF)
		if err != nil {
			return res, fmt.Errorf("adc: could not leave test mode of ADC %d: %w", adc, err)
		}
	}

	return res, nil
}

func (tr *Trainer) trainLane(ctx context.Context, adc, lane int) (LaneResult, error) {
	lr := LaneResult{ADC: adc, Lane: lane}

	for attempt := 1; attempt <= tr.cfg.attempts; attempt++ {
		if attempt > 1 {
			tr.cfg.msg.Printf("ADC %d, lane %d: %v, resetting ADC...", adc, lane, lr.Err.Kind)
			err := tr.ResetADC(ctx, adc)
			if err != nil {
				return lr, err
			}
		}
		lr.Attempts = attempt

		scan, err := tr.sweep(ctx, adc, lane)
		if err != nil {
			return lr, fmt.Errorf("adc: could not sweep ADC %d, lane %d: %w", adc, lane, err)
		}
		lr.Scan = scan

		win, ok := Best(Windows(scan))
		if !ok {
			lr.Err = &LaneError{ADC: adc, Lane: lane, Kind: NoLock}
			continue
		}

		tap := win.Mid()
		err = tr.rdout[adc].SetDelay(lane, tap)
		if err != nil {
			return lr, fmt.Errorf("adc: could not commit delay of ADC %d, lane %d: %w", adc, lane, err)
		}
		lr.Tap = tap
		lr.Window = win
		lr.Err = nil

		if lane != FrameLane {
			ok, err := tr.patternMatch(ctx, adc, lane)
			if err != nil {
				return lr, fmt.Errorf("adc: could not check delay of ADC %d, lane %d: %w", adc, lane, err)
			}
			if !ok {
				lr.Err = &LaneError{ADC: adc, Lane: lane, Kind: PatternFail}
				continue
			}
		}
		tr.cfg.msg.Printf(
			"ADC %d, lane %d: window=[%d, %d], tap=%d",
			adc, lane, win.Start, win.End, tap,
		)
		return lr, nil
	}

	tr.cfg.msg.Printf("ADC %d, lane %d: %v", adc, lane, lr.Err.Kind)
	return lr, nil
}

func (tr *Trainer) sweep(ctx context.Context, adc, lane int) ([]bool, error) {
	pred := tr.frameLocked
	if lane != FrameLane {
		err := tr.setupTester(adc)
		if err != nil {
			return nil, err
		}
		pred = tr.patternMatch
	}

	scan := make([]bool, NumTaps)
	for tap := range scan {
		if err := ctx.Err(); err != nil {
			return scan, err
		}
		err := tr.rdout[adc].SetDelay(lane, tap)
		if err != nil {
			return scan, err
		}
		scan[tap], err = pred(ctx, adc, lane)
		if err != nil {
			return scan, err
		}
	}
	return scan, nil
}

func (tr *Trainer) frameLocked(ctx context.Context, adc, lane int) (bool, error) {
	rdout := tr.rdout[adc]
	err := rdout.Pulse("CntRst")
	if err != nil {
		return false, err
	}

	err = poll.Sleep(ctx, tr.cfg.dwell)
	if err != nil {
		return false, err
	}

	lost, err := rdout.Get("LostLockCount")
	if err != nil {
		return false, err
	}
	locked, err := rdout.Get("Locked")
	if err != nil {
		return false, err
	}
	return lost == 0 && locked == 1, nil
}

func (tr *Trainer) setupTester(adc int) error {
	err := tr.adcs[adc].Set("OutputTestMode", regs.TEST_MODE_MIXED)
	if err != nil {
		return fmt.Errorf("could not enter test mode: %w", err)
	}
	for _, v := range []struct {
		name string
		val  uint32
	}{
		{"TestPattern", regs.MIXED_PATTERN},
		{"TestDataMask", regs.MIXED_MASK},
		{"TestSamples", tr.cfg.samples},
		{"TestTimeout", uint32(tr.cfg.testWait / time.Microsecond)},
	} {
		err = tr.tester.Set(v.name, v.val)
		if err != nil {
			return fmt.Errorf("could not configure pattern tester: %w", err)
		}
	}
	return nil
}

func (tr *Trainer) patternMatch(ctx context.Context, adc, lane int) (bool, error) {
	err := tr.tester.Set("TestChannel", uint32(adc*NumDataLanes+lane))
	if err != nil {
		return false, err
	}
	err = tr.tester.Pulse("TestRequest")
	if err != nil {
		return false, err
	}

	var passed uint32
	ok, err := poll.Until(ctx, tr.cfg.period, tr.cfg.testWait, func() (bool, error) {
		var err error
		passed, err = tr.tester.Get("TestPassed")
		if err != nil || passed == 1 {
			return true, err
		}
		failed, err := tr.tester.Get("TestFailed")
		return failed == 1, err
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return passed == 1, nil
}

// ResetADC issues a soft reset of an ADC and waits for it to settle.
func (tr *Trainer) ResetADC(ctx context.Context, adc int) error {
	cfg := tr.adcs[adc]
	err := cfg.Set("InternalPdwnMode", regs.PDWN_RESET)
	if err != nil {
		return fmt.Errorf("adc: could not reset ADC %d: %w", adc, err)
	}
	err = poll.Sleep(ctx, tr.cfg.resetWait)
	if err != nil {
		return fmt.Errorf("adc: could not reset ADC %d: %w", adc, err)
	}
	err = cfg.Set("InternalPdwnMode", 0)
	if err != nil {
		return fmt.Errorf("adc: could not clear reset of ADC %d: %w", adc, err)
	}
	err = poll.Sleep(ctx, tr.cfg.resetWait)
	if err != nil {
		return fmt.Errorf("adc: could not reset ADC %d: %w", adc, err)
	}
	return nil
}

// SetOutputFormat selects the output format of the provided ADCs:
// offset binary, or two's complement.
func (tr *Trainer) SetOutputFormat(adcs []int, twosComplement bool) error {
	v := uint32(regs.FORMAT_OFFSET_BINARY)
	if twosComplement {
		v = regs.FORMAT_TWOS_COMP
	}
	for _, adc := range adcs {
		err := tr.adcs[adc].Set("OutputFormat", v)
		if err != nil {
			return fmt.Errorf("adc: could not set output format of ADC %d: %w", adc, err)
		}
	}
	return nil
}

// Program loads the delay taps of a calibration table into the lanes.
func (tr *Trainer) Program(ctx context.Context, tbl calib.Table) error {
	for _, e := range tbl.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if int(e.ADC) >= NumADCs || int(e.Lane) >= NumLanes {
			return fmt.Errorf("adc: invalid calibration entry %+v", e)
		}
		err := tr.rdout[e.ADC].SetDelay(int(e.Lane), int(e.Tap))
		if err != nil {
			return fmt.Errorf("adc: could not program delay of ADC %d, lane %d: %w", e.ADC, e.Lane, err)
		}
	}
	return nil
}
