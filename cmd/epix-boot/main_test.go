// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "boot.yaml")
	err := os.WriteFile(fname, []byte(`
log-dir: /tmp/epix
kill: false
procs:
  - cmd: epix-tdaq
    args: ["-id", "epix-01"]
    env: ["EPIX_CONFIG=/etc/epix/quad-1.yaml"]
  - cmd: tdaq-runctl
`), 0644)
	if err != nil {
		t.Fatalf("could not write config: %+v", err)
	}

	cfg, err := loadConfig(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	want := Config{
		LogDir: "/tmp/epix",
		Procs: []Proc{
			{
				Cmd:  "epix-tdaq",
				Args: []string{"-id", "epix-01"},
				Env:  []string{"EPIX_CONFIG=/etc/epix/quad-1.yaml"},
			},
			{Cmd: "tdaq-runctl"},
		},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", cfg, want)
	}

	err = os.WriteFile(fname, []byte("log-dir: /tmp\n"), 0644)
	if err != nil {
		t.Fatalf("could not write config: %+v", err)
	}
	_, err = loadConfig(fname)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestRun(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skipf("no sleep command: %+v", err)
	}

	for _, tc := range []struct {
		name string
		args string
		mon  bool
		stop bool
	}{
		{
			name: "simple",
			args: "1",
		},
		{
			name: "simple-pmon",
			args: "2",
			mon:  true,
		},
		{
			name: "simple-stop",
			args: "10",
			stop: true,
		},
		{
			name: "simple-stop-pmon",
			args: "10",
			stop: true,
			mon:  true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{
				LogDir: t.TempDir(),
				Procs: []Proc{
					{Cmd: sleep, Args: []string{tc.args}},
					{Cmd: sleep, Args: []string{tc.args}},
					{Cmd: sleep, Args: []string{tc.args}, Env: []string{"EPIX=1"}},
				},
			}

			stop := make(chan os.Signal, 1)
			if tc.stop {
				go func() {
					time.Sleep(1 * time.Second)
					stop <- os.Interrupt
				}()
			}
			err := run(cfg, tc.mon, 100*time.Millisecond, stop)
			if err != nil {
				t.Fatalf("could not run processes: %+v", err)
			}

			logs, err := filepath.Glob(filepath.Join(cfg.LogDir, "*-sleep.log"))
			if err != nil {
				t.Fatalf("could not glob logs: %+v", err)
			}
			if got, want := len(logs), len(cfg.Procs); got != want {
				t.Fatalf("invalid number of logs: got=%d, want=%d", got, want)
			}
		})
	}
}
