// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command epix-boot (re)starts the ePix DAQ processes.
//
// The processes are described by a YAML file:
//
//	log-dir: /var/log/epix
//	kill: true
//	procs:
//	  - cmd: epix-tdaq
//	    args: ["-id", "epix-01"]
//	    env: ["EPIX_CONFIG=/etc/epix/quad-1.yaml"]
package main // import "github.com/go-lpc/epix/cmd/epix-boot"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"
)

// Config describes the processes to boot.
type Config struct {
	LogDir string `json:"log-dir"`
	Kill   bool   `json:"kill"` // kill already running processes with the same name
	Procs  []Proc `json:"procs"`
}

// Proc describes a process to boot.
type Proc struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
	Env  []string `json:"env,omitempty"`
}

func (p Proc) command() *exec.Cmd {
	cmd := exec.Command(p.Cmd, p.Args...)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	return cmd
}

func loadConfig(fname string) (Config, error) {
	cfg := Config{
		LogDir: os.Getenv("EPIXLOGDIR"),
		Kill:   true,
	}
	raw, err := os.ReadFile(fname)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}
	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("could not decode config file %q: %w", fname, err)
	}
	if len(cfg.Procs) == 0 {
		return cfg, fmt.Errorf("no process to boot in %q", fname)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "/var/log/epix"
	}
	return cfg, nil
}

var (
	cfgName = flag.String("cfg", "/etc/epix/boot.yaml", "path to boot configuration file")
	doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")

	stop = make(chan os.Signal, 1)
)

func main() {
	flag.Parse()

	log.SetPrefix("epix-boot: ")
	log.SetFlags(0)

	cfg, err := loadConfig(*cfgName)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	err = run(cfg, *doMon, *doFreq, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(cfg Config, doMon bool, freq time.Duration, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	if cfg.Kill {
		for _, p := range cfg.Procs {
			name := filepath.Base(p.Cmd)
			kill := exec.Command("killall", name)
			kill.Stderr = os.Stderr
			kill.Stdout = os.Stdout
			err := kill.Run()
			if err != nil {
				log.Printf("could not kill %q: %+v", name, err)
			}
		}
	}

	err := os.MkdirAll(cfg.LogDir, 0755)
	if err != nil {
		return fmt.Errorf("could not create log dir: %w", err)
	}

	var (
		grp  errgroup.Group
		kill = make(chan int)
	)
	for i := range cfg.Procs {
		cmd := cfg.Procs[i].command()
		logName := filepath.Join(cfg.LogDir, fmt.Sprintf("%02d-%s", i, filepath.Base(cmd.Path)))
		grp.Go(func() error {
			return start(cmd, logName, kill, doMon, freq)
		})
	}

	go func() {
		<-stop
		close(kill)
	}()

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot DAQ: %w", err)
	}
	return nil
}

func start(cmd *exec.Cmd, logName string, kill chan int, doMon bool, freq time.Duration) error {
	name := filepath.Base(cmd.Path)
	out, err := os.Create(logName + ".log")
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		p, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			return fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, cmd.Process.Pid, err)
		}
		f, err := os.Create(logName + "-pmon.log")
		if err != nil {
			return fmt.Errorf("could not create pmon log file for command %q: %w", name, err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			log.Printf("run pmon %q...", name)
			err := p.Run()
			if err != nil {
				log.Printf("could not start monitoring %q: %+v", name, err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring %q: %+v", name, err)
			}
		}()
	}

	errch := make(chan error, 1)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-kill:
		err = cmd.Process.Kill()
		if err != nil {
			return fmt.Errorf("could not kill %q: %w", name, err)
		}
		<-errch
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
	}

	return nil
}
