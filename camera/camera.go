// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package camera sequences the bring-up and the configuration of an
// ePix quad camera.
//
// A Camera owns the register bus and every facade built on top of it:
// the pixel matrix engine, the ADC trainer and the PROM programmer.
// All control-plane operations go through a Camera and are serialized.
package camera // import "github.com/go-lpc/epix/camera"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/epix/adc"
	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/calib"
	"github.com/go-lpc/epix/epix10ka"
	"github.com/go-lpc/epix/internal/regs"
	"github.com/go-lpc/epix/prom"
	"github.com/go-lpc/epix/reg"
)

var (
	// ErrCancelled reports an operation aborted by its caller.
	ErrCancelled = fmt.Errorf("camera: cancelled: %w", context.Canceled)

	// ErrDeadline reports a step that did not complete in time.
	ErrDeadline = fmt.Errorf("camera: deadline-exceeded: %w", context.DeadlineExceeded)
)

// policy classifies context errors into ErrCancelled or ErrDeadline.
// parent is the context of the caller, err the error of the operation.
func policy(parent context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case parent.Err() != nil:
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrDeadline, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}

// Camera is an ePix quad camera.
type Camera struct {
	mu  sync.Mutex
	bus bus.Bus
	msg *log.Logger
	cfg config

	sys struct {
		regs    *reg.Regs
		version reg.Reg32
		scratch reg.Reg32
		dcdc    reg.Reg32
		good    reg.Reg32
		trig    reg.Reg32
		deser   reg.Reg32
	}

	eng   *epix10ka.Engine
	adcs  *adc.Trainer
	prom  *prom.Programmer
	calib *calib.Table // last accepted calibration, nil if none
}

// New creates a camera on top of the provided register bus.
func New(b bus.Bus, opts ...Option) *Camera {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	cam := &Camera{
		bus: b,
		msg: cfg.msg,
		cfg: cfg,
	}
	r := reg.NewRegs(b)
	cam.sys.regs = r
	cam.sys.version = r.Pin(regs.VERSION_FPGA)
	cam.sys.scratch = r.Pin(regs.VERSION_SCRATCH)
	cam.sys.dcdc = r.Pin(regs.SYS_DCDC_EN)
	cam.sys.good = r.Pin(regs.SYS_RAILS_GOOD)
	cam.sys.trig = r.Pin(regs.SYS_TRIG_EN)
	cam.sys.deser = r.Pin(regs.SYS_DESER_RST)

	cam.eng = epix10ka.NewEngine(b, cfg.engine...)
	cam.adcs = adc.NewTrainer(b, cfg.trainer...)
	cam.prom = prom.NewProgrammer(b, cfg.prom...)
	return cam
}

// Bus returns the register bus of the camera.
func (cam *Camera) Bus() bus.Bus { return cam.bus }

// Engine returns the pixel matrix configuration engine.
func (cam *Camera) Engine() *epix10ka.Engine { return cam.eng }

// Trainer returns the ADC lane trainer.
func (cam *Camera) Trainer() *adc.Trainer { return cam.adcs }

// Calibration returns the last accepted calibration table, if any.
func (cam *Camera) Calibration() (calib.Table, bool) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	if cam.calib == nil {
		return calib.Table{}, false
	}
	return *cam.calib, true
}

func (cam *Camera) sysErr(msg string) error {
	err := cam.sys.regs.Err()
	cam.sys.regs.Reset()
	if err == nil {
		return nil
	}
	return fmt.Errorf("camera: could not %s: %w", msg, err)
}

// Version returns the FPGA firmware version.
func (cam *Camera) Version() (uint32, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	v := cam.sys.version.R()
	return v, cam.sysErr("read firmware version")
}

// SetTriggers enables or disables the acquisition and daq triggers.
func (cam *Camera) SetTriggers(enable bool) error {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.setTriggers(enable)
}

func (cam *Camera) setTriggers(enable bool) error {
	v := uint32(0)
	if enable {
		v = regs.O_TRIG_ACQ | regs.O_TRIG_DAQ
	}
	cam.sys.trig.W(v)
	return cam.sysErr("set triggers")
}

// Triggers reports whether acquisition triggers are enabled.
func (cam *Camera) Triggers() (bool, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	v := cam.sys.trig.R()
	return v&(regs.O_TRIG_ACQ|regs.O_TRIG_DAQ) != 0, cam.sysErr("read triggers")
}

// safeTriggers disables triggers, logging failures.
func (cam *Camera) safeTriggers() {
	err := cam.setTriggers(false)
	if err != nil {
		cam.msg.Printf("could not disable triggers: %+v", err)
	}
}

// ApplyMatrix applies a pixel matrix to the ASICs selected by mask.
// Acquisition triggers are disabled if the operation is cancelled.
func (cam *Camera) ApplyMatrix(ctx context.Context, m *epix10ka.Matrix, mask uint16) (epix10ka.Result, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	res, err := cam.eng.ApplyMatrix(ctx, m, mask)
	if ctx.Err() != nil {
		cam.safeTriggers()
		return res, policy(ctx, err)
	}
	return res, err
}

// VerifyMatrix reads back the pixel configuration of the ASICs selected by
// mask and compares it with m.
func (cam *Camera) VerifyMatrix(ctx context.Context, m *epix10ka.Matrix, mask uint16) error {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	err := cam.eng.VerifyMatrix(ctx, m, mask)
	if ctx.Err() != nil {
		cam.safeTriggers()
		return policy(ctx, err)
	}
	return err
}

// TrainADC trains the requested lanes of the requested ADCs.
//
// Triggers are disabled for the duration of the training and are left
// disabled. When every lane of the requested ADCs is trained, the taps
// are merged into the in-memory calibration.
func (cam *Camera) TrainADC(ctx context.Context, adcs, lanes []int) (*adc.Result, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	err := cam.setTriggers(false)
	if err != nil {
		return nil, err
	}
	res, err := cam.train(ctx, adcs, lanes)
	if err != nil {
		cam.safeTriggers()
		return res, policy(ctx, err)
	}
	return res, res.Err()
}

func (cam *Camera) train(ctx context.Context, adcs, lanes []int) (*adc.Result, error) {
	res, err := cam.adcs.Train(ctx, adcs, lanes)
	if err != nil || res.Err() != nil {
		return res, err
	}

	tbl := calib.New()
	if cam.calib != nil {
		tbl.Entries = append(tbl.Entries, cam.calib.Entries...)
	}
	for _, e := range res.Table().Entries {
		tbl.Set(int(e.ADC), int(e.Lane), int(e.Tap))
	}
	cam.calib = &tbl
	return res, nil
}

// ReloadFirmware writes a firmware image into the PROM and reloads the FPGA.
// The in-memory calibration is discarded.
func (cam *Camera) ReloadFirmware(ctx context.Context, img *prom.Image) error {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	err := cam.setTriggers(false)
	if err != nil {
		return err
	}

	err = cam.prom.Program(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return policy(ctx, err)
		}
		return fmt.Errorf("camera: could not program firmware: %w", err)
	}

	err = cam.prom.Reload()
	if err != nil {
		return fmt.Errorf("camera: could not reload firmware: %w", err)
	}
	cam.calib = nil
	return nil
}

// Close disables triggers and releases the register bus.
func (cam *Camera) Close() error {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	err := cam.setTriggers(false)
	if c, ok := cam.bus.(io.Closer); ok {
		if e := c.Close(); e != nil && err == nil {
			err = fmt.Errorf("camera: could not close register bus: %w", e)
		}
	}
	return err
}

type config struct {
	msg       *log.Logger
	deadlines [nSteps]time.Duration
	settle    time.Duration // rails settling time
	railPoll  time.Duration
	adcs      []int
	store     calib.Store
	persist   bool

	engine  []epix10ka.Option
	trainer []adc.Option
	prom    []prom.Option
}

func newConfig() config {
	return config{
		msg: log.New(os.Stdout, "camera: ", 0),
		deadlines: [nSteps]time.Duration{
			StepTransport:    2 * time.Second,
			StepRails:        10 * time.Second,
			StepADCReset:     60 * time.Second,
			StepDeserReset:   2 * time.Second,
			StepCalibration:  10 * time.Minute,
			StepOutputFormat: 5 * time.Second,
			StepTriggers:     2 * time.Second,
		},
		settle:   1 * time.Second,
		railPoll: 10 * time.Millisecond,
		adcs:     adc.AllADCs(),
	}
}

// Option configures a Camera.
type Option func(*config)

// WithLogger sets the logger of the camera.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithDeadline sets the deadline of a startup step.
func WithDeadline(step Step, d time.Duration) Option {
	return func(cfg *config) {
		cfg.deadlines[step] = d
	}
}

// WithRailSettle sets the time waited after enabling the DC-DC converters.
func WithRailSettle(d time.Duration) Option {
	return func(cfg *config) {
		cfg.settle = d
	}
}

// WithADCs restricts the startup sequence to the provided ADCs.
func WithADCs(adcs ...int) Option {
	return func(cfg *config) {
		cfg.adcs = append([]int(nil), adcs...)
	}
}

// WithCalibrationStore sets the store of persisted calibrations.
// When persist is true, calibrations produced by training during startup
// are saved into the store.
func WithCalibrationStore(st calib.Store, persist bool) Option {
	return func(cfg *config) {
		cfg.store = st
		cfg.persist = persist
	}
}

// WithEngineOptions configures the pixel matrix engine.
func WithEngineOptions(opts ...epix10ka.Option) Option {
	return func(cfg *config) {
		cfg.engine = append(cfg.engine, opts...)
	}
}

// WithTrainerOptions configures the ADC trainer.
func WithTrainerOptions(opts ...adc.Option) Option {
	return func(cfg *config) {
		cfg.trainer = append(cfg.trainer, opts...)
	}
}

// WithPROMOptions configures the PROM programmer.
func WithPROMOptions(opts ...prom.Option) Option {
	return func(cfg *config) {
		cfg.prom = append(cfg.prom, opts...)
	}
}
