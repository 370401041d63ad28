// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-lpc/epix/adc"
	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/calib"
	"github.com/go-lpc/epix/internal/poll"
	"github.com/go-lpc/epix/internal/regs"
)

// Step is a step of the startup sequence.
type Step int

const (
	StepTransport Step = iota
	StepRails
	StepADCReset
	StepDeserReset
	StepCalibration
	StepOutputFormat
	StepTriggers
	nSteps
)

var stepNames = [nSteps]string{
	"transport",
	"rails",
	"adc-reset",
	"deser-reset",
	"calibration",
	"output-format",
	"triggers",
}

func (s Step) String() string {
	if s < 0 || s >= nSteps {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

// StepError reports the startup step that failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("camera: step %v failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Source tells where the calibration programmed at startup came from.
type Source uint8

const (
	SourceNone     Source = iota
	SourceMemory          // calibration accepted earlier in this session
	SourceStore           // persisted calibration
	SourceTraining        // fresh training run
)

func (src Source) String() string {
	switch src {
	case SourceNone:
		return "none"
	case SourceMemory:
		return "memory"
	case SourceStore:
		return "store"
	case SourceTraining:
		return "training"
	}
	return fmt.Sprintf("Source(%d)", uint8(src))
}

// StepReport is the outcome of one startup step.
type StepReport struct {
	Step    Step
	Elapsed time.Duration
	Skipped bool
	Note    string
	Err     error
}

// Report is the pass/fail report of a startup sequence.
type Report struct {
	Steps       []StepReport
	Calibration Source
	Training    *adc.Result // nil when no training was needed
}

// OK reports whether every step of the sequence completed.
func (rep *Report) OK() bool {
	if len(rep.Steps) != int(nSteps) {
		return false
	}
	for _, s := range rep.Steps {
		if s.Err != nil {
			return false
		}
	}
	return true
}

func (rep *Report) String() string {
	o := new(strings.Builder)
	for _, s := range rep.Steps {
		status := "ok"
		switch {
		case s.Err != nil:
			status = "FAIL"
		case s.Skipped:
			status = "skipped"
		}
		fmt.Fprintf(o, "%-14s %-8s %10v", s.Step, status, s.Elapsed.Round(time.Millisecond))
		if s.Note != "" {
			fmt.Fprintf(o, "  (%s)", s.Note)
		}
		o.WriteString("\n")
	}
	fmt.Fprintf(o, "calibration: %v\n", rep.Calibration)
	return o.String()
}

type stepFunc func(ctx context.Context, rep *Report, sr *StepReport) error

// Startup brings the camera from cold reset to ready-to-acquire.
//
// Every step runs under its own deadline. On failure, the camera is left
// with triggers disabled, and with the power rails disabled when the
// failure happened before the rails were stable.
func (cam *Camera) Startup(ctx context.Context) (*Report, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	var (
		rep   = new(Report)
		steps = [nSteps]stepFunc{
			StepTransport:    cam.stepTransport,
			StepRails:        cam.stepRails,
			StepADCReset:     cam.stepADCReset,
			StepDeserReset:   cam.stepDeserReset,
			StepCalibration:  cam.stepCalibration,
			StepOutputFormat: cam.stepOutputFormat,
			StepTriggers:     cam.stepTriggers,
		}
	)

	start := time.Now()
	for i, f := range steps {
		step := Step(i)
		err := cam.run(ctx, rep, step, f)
		if err != nil {
			cam.safeState(step)
			return rep, err
		}
	}
	cam.msg.Printf("camera ready (%v)", time.Since(start).Round(time.Millisecond))
	return rep, nil
}

func (cam *Camera) run(ctx context.Context, rep *Report, step Step, f stepFunc) error {
	sr := StepReport{Step: step}
	fail := func(err error) error {
		sr.Err = &StepError{Step: step, Err: err}
		rep.Steps = append(rep.Steps, sr)
		cam.msg.Printf("%v... [failed]: %v", step, err)
		return sr.Err
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCancelled, err))
	}

	sctx, cancel := context.WithTimeout(ctx, cam.cfg.deadlines[step])
	defer cancel()

	cam.msg.Printf("%v...", step)
	start := time.Now()
	err := f(sctx, rep, &sr)
	sr.Elapsed = time.Since(start)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("%w: %v", ErrCancelled, err)
		case sctx.Err() != nil:
			err = fmt.Errorf("%w: %v", ErrDeadline, err)
		}
		return fail(err)
	}

	rep.Steps = append(rep.Steps, sr)
	switch {
	case sr.Skipped:
		cam.msg.Printf("%v... [skipped] (%s)", step, sr.Note)
	default:
		cam.msg.Printf("%v... [ok]", step)
	}
	return nil
}

// safeState disables triggers, and the power rails when failed comes
// before the rails are stable.
func (cam *Camera) safeState(failed Step) {
	cam.sys.regs.Reset()
	cam.sys.trig.W(0)
	if failed <= StepRails {
		cam.sys.dcdc.W(0)
	}
	if err := cam.sysErr("reach safe state"); err != nil {
		cam.msg.Printf("%+v", err)
	}
}

const scratchPattern = 0x5a5aa5a5

func (cam *Camera) stepTransport(ctx context.Context, rep *Report, sr *StepReport) error {
	version := cam.sys.version.R()
	cam.sys.scratch.W(scratchPattern)
	scratch := cam.sys.scratch.R()
	cam.sys.trig.W(0)
	if err := cam.sysErr("probe register transport"); err != nil {
		return err
	}
	if scratch != scratchPattern {
		return &bus.Error{Op: "verify", Addr: regs.VERSION_SCRATCH, Err: bus.ErrVerify}
	}
	sr.Note = fmt.Sprintf("firmware=0x%08x", version)
	return nil
}

func (cam *Camera) stepRails(ctx context.Context, rep *Report, sr *StepReport) error {
	en := cam.sys.dcdc.R()
	good := cam.sys.good.R()
	if err := cam.sysErr("read power rails"); err != nil {
		return err
	}
	if en&regs.DCDC_ALL == regs.DCDC_ALL && good&regs.DCDC_ALL == regs.DCDC_ALL {
		sr.Skipped = true
		sr.Note = "rails already stable"
		return nil
	}

	cam.sys.dcdc.W(regs.DCDC_ALL)
	if err := cam.sysErr("enable DC-DC converters"); err != nil {
		return err
	}

	err := poll.Sleep(ctx, cam.cfg.settle)
	if err != nil {
		return fmt.Errorf("camera: could not wait for rails to settle: %w", err)
	}

	ok, err := poll.Until(ctx, cam.cfg.railPoll, cam.cfg.deadlines[StepRails], func() (bool, error) {
		good = cam.sys.good.R()
		return good&regs.DCDC_ALL == regs.DCDC_ALL, cam.sysErr("read power rails")
	})
	switch {
	case err != nil:
		return fmt.Errorf("camera: power rails not good (0x%x): %w", good, err)
	case !ok:
		return fmt.Errorf("camera: power rails not good (0x%x)", good)
	}
	return nil
}

func (cam *Camera) stepADCReset(ctx context.Context, rep *Report, sr *StepReport) error {
	for _, i := range cam.cfg.adcs {
		err := cam.adcs.ResetADC(ctx, i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (cam *Camera) stepDeserReset(ctx context.Context, rep *Report, sr *StepReport) error {
	cam.sys.deser.W(1)
	cam.sys.deser.W(0)
	return cam.sysErr("reset deserializers")
}

func (cam *Camera) stepCalibration(ctx context.Context, rep *Report, sr *StepReport) error {
	tbl, src, err := cam.lookupCalibration(ctx)
	if err != nil {
		return err
	}

	if src != SourceNone {
		err = cam.adcs.Program(ctx, tbl)
		if err != nil {
			return err
		}
		rep.Calibration = src
		sr.Note = "programmed " + src.String() + " calibration"
		return nil
	}

	res, err := cam.train(ctx, cam.cfg.adcs, adc.AllLanes())
	rep.Training = res
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	rep.Calibration = SourceTraining
	sr.Note = "trained"

	if cam.cfg.persist && cam.cfg.store != nil {
		err = cam.cfg.store.Save(ctx, *cam.calib)
		if err != nil {
			return fmt.Errorf("camera: could not persist calibration: %w", err)
		}
		sr.Note = "trained, persisted"
	}
	return nil
}

// lookupCalibration returns an acceptable calibration, from memory first
// then from the persisted store.
func (cam *Camera) lookupCalibration(ctx context.Context) (calib.Table, Source, error) {
	if cam.calib != nil && cam.calib.Complete(cam.cfg.adcs) {
		return *cam.calib, SourceMemory, nil
	}
	if cam.cfg.store == nil {
		return calib.Table{}, SourceNone, nil
	}

	tbl, err := cam.cfg.store.Load(ctx)
	switch {
	case err == nil && tbl.Complete(cam.cfg.adcs):
		cam.calib = &tbl
		return tbl, SourceStore, nil
	case err == nil:
		cam.msg.Printf("persisted calibration does not cover ADCs %v", cam.cfg.adcs)
	case errors.Is(err, calib.ErrNotFound):
		cam.msg.Printf("no persisted calibration")
	case errors.Is(err, calib.ErrCorrupt), errors.Is(err, calib.ErrVersion):
		cam.msg.Printf("rejecting persisted calibration: %v", err)
	default:
		return tbl, SourceNone, fmt.Errorf("camera: could not load calibration: %w", err)
	}
	return calib.Table{}, SourceNone, nil
}

func (cam *Camera) stepOutputFormat(ctx context.Context, rep *Report, sr *StepReport) error {
	return cam.adcs.SetOutputFormat(cam.cfg.adcs, false)
}

func (cam *Camera) stepTriggers(ctx context.Context, rep *Report, sr *StepReport) error {
	return cam.setTriggers(true)
}
