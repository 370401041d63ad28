// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package setup builds a camera from a YAML configuration file.
package setup // import "github.com/go-lpc/epix/internal/setup"

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/calib"
	"github.com/go-lpc/epix/camera"
	"github.com/go-lpc/epix/conddb"
	"github.com/go-lpc/epix/internal/alert"
	"github.com/go-lpc/epix/internal/mmap"
	"github.com/go-lpc/epix/pgp"
	"github.com/go-lpc/epix/sim"
	"sigs.k8s.io/yaml"
)

// Config describes how to reach and start a camera.
type Config struct {
	Name string  `json:"name"`           // camera name, used as calibration key
	Dev  string  `json:"dev"`            // PGP card device
	Lane int     `json:"lane"`           // PGP lane of the camera
	Sim  bool    `json:"sim,omitempty"`  // use a simulated camera
	Mem  *Window `json:"mem,omitempty"`  // memory-mapped register window, instead of the PGP card
	ADCs []int   `json:"adcs,omitempty"` // ADCs to train, all when empty

	// Deadlines holds per-step startup deadlines, keyed by step name.
	Deadlines map[string]string `json:"deadlines,omitempty"`
	Settle    string            `json:"settle,omitempty"`

	Calibration Calibration  `json:"calibration"`
	Mail        alert.Config `json:"mail"`
}

// Window is a memory-mapped register window.
type Window struct {
	Dev    string `json:"dev"`    // device file, such as /dev/mem or a uio device
	Offset int64  `json:"offset"` // page-aligned offset of the window
	Size   int    `json:"size"`
}

// Calibration selects where calibrations are persisted.
// At most one of Cache, DB and Firmware is used, in that order.
type Calibration struct {
	Cache    string `json:"cache,omitempty"`  // bbolt file
	DB       string `json:"conddb,omitempty"` // condition database name
	Firmware bool   `json:"firmware,omitempty"`
	Persist  bool   `json:"persist,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Name: "epix-quad",
		Dev:  "/dev/datadev_0",
		Mail: alert.FromEnv(),
	}
}

// Load reads the YAML configuration file fname on top of the default
// configuration.
func Load(fname string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(fname)
	if err != nil {
		return cfg, fmt.Errorf("setup: could not read config file: %w", err)
	}
	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("setup: could not decode config file %q: %w", fname, err)
	}
	if cfg.Lane < 0 || cfg.Lane > 7 {
		return cfg, fmt.Errorf("setup: invalid PGP lane %d", cfg.Lane)
	}
	return cfg, nil
}

// StepByName returns the startup step with the provided name.
func StepByName(name string) (camera.Step, bool) {
	for s := camera.StepTransport; s <= camera.StepTriggers; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

func (cfg Config) options(msg *log.Logger) ([]camera.Option, error) {
	opts := []camera.Option{camera.WithLogger(msg)}
	for name, v := range cfg.Deadlines {
		step, ok := StepByName(name)
		if !ok {
			return nil, fmt.Errorf("setup: unknown startup step %q", name)
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("setup: invalid deadline for step %q: %w", name, err)
		}
		opts = append(opts, camera.WithDeadline(step, d))
	}
	if cfg.Settle != "" {
		d, err := time.ParseDuration(cfg.Settle)
		if err != nil {
			return nil, fmt.Errorf("setup: invalid rails settle time: %w", err)
		}
		opts = append(opts, camera.WithRailSettle(d))
	}
	if len(cfg.ADCs) > 0 {
		opts = append(opts, camera.WithADCs(cfg.ADCs...))
	}
	return opts, nil
}

// Env holds a camera and the resources it was built from.
type Env struct {
	Camera *camera.Camera
	Card   *pgp.Card   // nil unless the camera is reached over a PGP card
	Sim    *sim.Camera // nil for a real camera
	DB     *conddb.DB  // nil without a condition database

	closers []io.Closer
}

// Open builds the camera described by cfg.
func Open(cfg Config, msg *log.Logger) (*Env, error) {
	opts, err := cfg.options(msg)
	if err != nil {
		return nil, err
	}

	env := new(Env)
	var b bus.Bus
	switch {
	case cfg.Sim:
		env.Sim = sim.New()
		b = env.Sim
	case cfg.Mem != nil:
		h, err := mmap.Open(cfg.Mem.Dev, cfg.Mem.Offset, cfg.Mem.Size)
		if err != nil {
			return nil, fmt.Errorf("setup: could not open camera: %w", err)
		}
		env.closers = append(env.closers, h)
		b = bus.NewMem(h, 0)
	default:
		env.Card, err = pgp.Open(cfg.Dev, cfg.Lane, pgp.WithLogger(msg))
		if err != nil {
			return nil, fmt.Errorf("setup: could not open camera: %w", err)
		}
		env.closers = append(env.closers, env.Card)
		b = env.Card.Bus()
	}

	var store calib.Store
	cal := cfg.Calibration
	switch {
	case cal.Cache != "":
		st, err := calib.OpenBolt(cal.Cache, cfg.Name)
		if err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("setup: could not open calibration cache: %w", err)
		}
		env.closers = append(env.closers, st)
		store = st
	case cal.DB != "":
		db, err := conddb.Open(cal.DB)
		if err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("setup: could not open condition db: %w", err)
		}
		env.closers = append(env.closers, db)
		env.DB = db
		store = &conddb.CalibStore{DB: db, Camera: cfg.Name}
	case cal.Firmware:
		store = calib.NewFirmwareStore(b)
	}
	if store != nil {
		opts = append(opts, camera.WithCalibrationStore(store, cal.Persist))
	}

	env.Camera = camera.New(b, opts...)
	return env, nil
}

// Close releases the transport and calibration resources.
// The state of the camera is left untouched.
func (env *Env) Close() error {
	var err error
	for i := len(env.closers) - 1; i >= 0; i-- {
		if e := env.closers[i].Close(); e != nil && err == nil {
			err = e
		}
	}
	env.closers = nil
	if err != nil {
		return fmt.Errorf("setup: could not close camera: %w", err)
	}
	return nil
}
