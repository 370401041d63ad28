// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command epix-ctl controls an ePix10ka quad camera.
//
// Usage: epix-ctl [flags] <command> [args]
//
// Commands:
//   - startup: runs the camera startup sequence
//   - train-adc: trains the ADC lane delays
//   - apply-matrix <csv>: configures the pixel matrices
//   - reload-firmware <mcs>: programs the firmware PROM and reloads the FPGA
//   - shell: runs an interactive register shell
//   - daq: records the camera data stream
//
// epix-ctl exits with 0 on success, 1 on usage or unclassified errors,
// 2 on input errors, 3 on transport errors, 4 on configuration errors and
// 5 when a deadline expired or the command was cancelled.
package main // import "github.com/go-lpc/epix/cmd/epix-ctl"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-lpc/epix/adc"
	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/camera"
	"github.com/go-lpc/epix/epix10ka"
	"github.com/go-lpc/epix/internal/alert"
	"github.com/go-lpc/epix/internal/setup"
	"github.com/spf13/cobra"
)

const (
	exitOK        = 0
	exitUsage     = 1
	exitInput     = 2
	exitTransport = 3
	exitConfig    = 4
	exitPolicy    = 5
)

func main() {
	log.SetPrefix("epix-ctl: ")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := xmain(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func xmain(ctx context.Context, args []string, stdout io.Writer) int {
	cmd := newRootCmd(stdout, log.Default())
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		log.Printf("%+v", err)
	}
	return exitCode(err)
}

// inputError reports an invalid input file.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var (
		ierr *inputError
		cerr *epix10ka.ConfigError
		lerr *adc.LaneError
		berr *bus.Error
	)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, camera.ErrCancelled), errors.Is(err, camera.ErrDeadline):
		return exitPolicy
	case errors.As(err, &ierr),
		errors.Is(err, epix10ka.ErrBadShape),
		errors.Is(err, epix10ka.ErrBadValue):
		return exitInput
	case errors.As(err, &cerr), errors.As(err, &lerr):
		return exitConfig
	case errors.As(err, &berr),
		errors.Is(err, bus.ErrTimeout),
		errors.Is(err, bus.ErrBus),
		errors.Is(err, bus.ErrVerify):
		return exitTransport
	default:
		return exitUsage
	}
}

type app struct {
	stdout io.Writer
	msg    *log.Logger

	cfgFile string
	dev     string
	lane    int
	sim     bool
	mailTo  []string
}

func newRootCmd(stdout io.Writer, msg *log.Logger) *cobra.Command {
	a := &app{stdout: stdout, msg: msg}
	cmd := &cobra.Command{
		Use:           "epix-ctl",
		Short:         "Control an ePix10ka quad camera",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "path to YAML configuration file")
	flags.StringVar(&a.dev, "dev", "/dev/datadev_0", "PGP card device")
	flags.IntVar(&a.lane, "lane", 0, "PGP lane of the camera")
	flags.BoolVar(&a.sim, "sim", false, "use a simulated camera")
	flags.StringSliceVar(&a.mailTo, "mail-to", nil, "comma-separated list of alert mail recipients")

	cmd.AddCommand(
		a.newStartupCmd(),
		a.newTrainADCCmd(),
		a.newApplyMatrixCmd(),
		a.newReloadFirmwareCmd(),
		a.newShellCmd(),
		a.newDAQCmd(),
	)
	return cmd
}

// config loads the configuration file, overridden by explicit flags.
func (a *app) config(cmd *cobra.Command) (setup.Config, error) {
	cfg := setup.Default()
	if a.cfgFile != "" {
		var err error
		cfg, err = setup.Load(a.cfgFile)
		if err != nil {
			return cfg, &inputError{err}
		}
	}

	flags := cmd.Flags()
	if flags.Changed("dev") {
		cfg.Dev = a.dev
	}
	if flags.Changed("lane") {
		if a.lane < 0 || a.lane > 7 {
			return cfg, fmt.Errorf("invalid PGP lane %d", a.lane)
		}
		cfg.Lane = a.lane
	}
	if flags.Changed("sim") {
		cfg.Sim = a.sim
	}
	if flags.Changed("mail-to") {
		cfg.Mail.To = a.mailTo
	}
	return cfg, nil
}

func (a *app) open(cmd *cobra.Command) (setup.Config, *setup.Env, error) {
	cfg, err := a.config(cmd)
	if err != nil {
		return cfg, nil, err
	}
	env, err := setup.Open(cfg, a.msg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, env, nil
}

// alert mails the failure of a command to the operators, if any.
func (a *app) alert(cfg setup.Config, key string, err error) {
	if len(cfg.Mail.To) == 0 {
		return
	}
	m := alert.New(cfg.Mail, alert.WithLogger(a.msg))
	e := m.Alert(
		key,
		fmt.Sprintf("%s failed on camera %q", key, cfg.Name),
		fmt.Sprintf("camera: %s\ndevice: %s (lane=%d)\nerror:  %+v\n", cfg.Name, cfg.Dev, cfg.Lane, err),
	)
	if e != nil {
		a.msg.Printf("could not send alert: %+v", e)
	}
}
