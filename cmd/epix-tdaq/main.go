// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command epix-tdaq starts a TDAQ server controlling an ePix10ka quad camera.
//
// The camera configuration file is read from the EPIX_CONFIG environment
// variable. Pixel data frames are published on the /pixel output.
package main // import "github.com/go-lpc/epix/cmd/epix-tdaq"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/epix/internal/setup"
	"github.com/go-lpc/epix/stream"
)

func main() {
	cmd := flags.New()

	dev := &device{
		name: cmd.Args[0],
		cfg:  os.Getenv("EPIX_CONFIG"),
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/pixel", dev.pixel)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type device struct {
	name string
	cfg  string // path to the camera configuration file

	mu   sync.Mutex
	env  *setup.Env
	n    int // number of forwarded frames
	data chan []byte
}

func (dev *device) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg := setup.Default()
	if dev.cfg != "" {
		var err error
		cfg, err = setup.Load(dev.cfg)
		if err != nil {
			ctx.Msg.Errorf("could not load camera config: %+v", err)
			return err
		}
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.env != nil {
		_ = dev.env.Close()
		dev.env = nil
	}

	env, err := setup.Open(cfg, log.New(msgWriter{ctx}, "", 0))
	if err != nil {
		ctx.Msg.Errorf("could not open camera %q: %+v", cfg.Name, err)
		return err
	}

	rep, err := env.Camera.Startup(ctx.Ctx)
	if rep != nil {
		ctx.Msg.Infof("startup report:\n%v", rep)
	}
	if err != nil {
		_ = env.Close()
		ctx.Msg.Errorf("could not start camera %q: %+v", cfg.Name, err)
		return err
	}
	// triggers are enabled by /start.
	err = env.Camera.SetTriggers(false)
	if err != nil {
		_ = env.Close()
		return fmt.Errorf("could not disable triggers: %w", err)
	}

	dev.env = env
	return nil
}

func (dev *device) reset() {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.data = make(chan []byte, 1024)
	dev.n = 0
}

func (dev *device) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev.reset()
	return nil
}

func (dev *device) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := dev.triggers(false)
	if err != nil {
		ctx.Msg.Errorf("could not disable triggers: %+v", err)
		return err
	}
	dev.reset()
	return nil
}

func (dev *device) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := dev.triggers(true)
	if err != nil {
		ctx.Msg.Errorf("could not enable triggers: %+v", err)
		return err
	}
	return nil
}

func (dev *device) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	err := dev.triggers(false)
	dev.mu.Lock()
	n := dev.n
	dev.mu.Unlock()
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	if err != nil {
		ctx.Msg.Errorf("could not disable triggers: %+v", err)
		return err
	}
	return nil
}

func (dev *device) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.env == nil {
		return nil
	}
	err := dev.env.Camera.Close()
	if e := dev.env.Close(); e != nil && err == nil {
		err = e
	}
	dev.env = nil
	if err != nil {
		ctx.Msg.Errorf("could not close camera: %+v", err)
		return err
	}
	return nil
}

func (dev *device) triggers(enable bool) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.env == nil {
		return fmt.Errorf("camera not configured")
	}
	return dev.env.Camera.SetTriggers(enable)
}

func (dev *device) queue() chan []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.data
}

func (dev *device) pixel(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.queue():
		dst.Body = data
	}
	return nil
}

func (dev *device) source() stream.Source {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.env == nil || dev.env.Card == nil {
		return nil
	}
	return dev.env.Card.Source(stream.ChanData)
}

func (dev *device) run(ctx tdaq.Context) error {
	src := dev.source()
	if src == nil {
		ctx.Msg.Infof("no pixel data source")
		<-ctx.Ctx.Done()
		return nil
	}

	data := dev.queue()
	for {
		f, err := src.Read(ctx.Ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), ctx.Ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("could not read pixel frame: %w", err)
			}
		}
		if f.Error != 0 {
			ctx.Msg.Errorf("pixel frame with error 0x%x", f.Error)
		}
		select {
		case data <- f.Data:
			dev.mu.Lock()
			dev.n++
			dev.mu.Unlock()
		default:
		}
	}
}

// msgWriter forwards camera log lines to the TDAQ message stream.
type msgWriter struct {
	ctx tdaq.Context
}

func (w msgWriter) Write(p []byte) (int, error) {
	w.ctx.Msg.Infof("%s", p)
	return len(p), nil
}
