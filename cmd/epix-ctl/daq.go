// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-lpc/epix/internal/setup"
	"github.com/go-lpc/epix/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type daqOpts struct {
	out      string        // output file
	input    string        // replayed input file, instead of the PGP card
	metrics  string        // [ip]:port of the metrics server
	duration time.Duration // acquisition duration, until interrupted when zero
	depth    int           // queue depth of the file sink
}

func (a *app) newDAQCmd() *cobra.Command {
	var opts daqOpts
	cmd := &cobra.Command{
		Use:   "daq",
		Short: "Record the camera data stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.out == "" {
				return fmt.Errorf("missing output file")
			}
			cfg, env, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			err = a.daq(cmd.Context(), env, opts)
			if err != nil {
				a.alert(cfg, "daq", err)
				return err
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.out, "output", "o", "", "path to output data file")
	flags.StringVar(&opts.input, "input", "", "replay frames from a data file instead of the camera")
	flags.StringVar(&opts.metrics, "metrics", "", "[ip]:port to serve prometheus metrics on")
	flags.DurationVar(&opts.duration, "duration", 0, "acquisition duration (default: until interrupted)")
	flags.IntVar(&opts.depth, "depth", 1024, "queue depth of the output file")
	return cmd
}

func (a *app) daq(ctx context.Context, env *setup.Env, opts daqOpts) error {
	reg := prometheus.NewRegistry()
	disp, err := stream.NewDispatcher(
		stream.WithLogger(a.msg),
		stream.WithRegisterer(reg),
	)
	if err != nil {
		return fmt.Errorf("could not create dispatcher: %w", err)
	}

	switch {
	case opts.input != "":
		f, err := os.Open(opts.input)
		if err != nil {
			return &inputError{fmt.Errorf("could not open input file: %w", err)}
		}
		defer f.Close()
		disp.AddSource(stream.NewFileReader(f))
	case env.Card != nil:
		for _, ch := range []stream.Channel{stream.ChanData, stream.ChanScope, stream.ChanMonitor} {
			disp.AddSource(env.Card.Source(ch))
		}
	default:
		return fmt.Errorf("no data source: a simulated camera needs an input file")
	}

	out, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer out.Close()

	w := stream.NewFileWriter(out)
	err = disp.AddSink(
		"file", w, stream.Block, opts.depth,
		stream.ChanData, stream.ChanScope, stream.ChanMonitor,
	)
	if err != nil {
		return fmt.Errorf("could not add file sink: %w", err)
	}

	if opts.metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: opts.metrics, Handler: mux}
		go func() {
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.msg.Printf("could not serve metrics: %+v", err)
			}
		}()
		defer srv.Close()
	}

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	if opts.input == "" {
		err = env.Camera.SetTriggers(true)
		if err != nil {
			return fmt.Errorf("could not enable triggers: %w", err)
		}
		defer func() {
			_ = env.Camera.SetTriggers(false)
		}()
	}

	a.msg.Printf("recording data stream into %q...", opts.out)
	err = disp.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		err = nil
	case err != nil:
		err = fmt.Errorf("could not record data stream: %w", err)
	}

	if e := w.Flush(); e != nil && err == nil {
		err = fmt.Errorf("could not flush output file: %w", e)
	}
	if e := out.Close(); e != nil && err == nil {
		err = fmt.Errorf("could not close output file: %w", e)
	}
	if err != nil {
		return err
	}
	a.msg.Printf("recording data stream into %q... [done] (records=%d)", opts.out, w.Records())
	return nil
}
