// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/epix/bus"
	"github.com/go-lpc/epix/camera"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func (a *app) newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run an interactive register shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, env, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			sh := &shell{cam: env.Camera, bus: env.Camera.Bus(), w: a.stdout}
			return sh.run()
		},
	}
}

type shell struct {
	cam *camera.Camera
	bus bus.Bus
	w   io.Writer
}

var shellCmds = map[string]string{
	"read":     "read ADDR [N]: read N words (default: 1) starting at ADDR",
	"write":    "write ADDR VALUE...: write words starting at ADDR",
	"version":  "version: display the firmware version",
	"triggers": "triggers [on|off]: display or set the trigger enables",
	"help":     "help: display this help",
	"quit":     "quit: exit the shell",
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".epix_history")
}

func (sh *shell) run() error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var out []string
		for name := range shellCmds {
			if strings.HasPrefix(name, line) {
				out = append(out, name)
			}
		}
		sort.Strings(out)
		return out
	})

	hist := historyFile()
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if hist == "" {
			return
		}
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("epix> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.exec(line)
		if err != nil {
			fmt.Fprintf(sh.w, "error: %+v\n", err)
			continue
		}
		if quit {
			return nil
		}
	}
}

func parseWord(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid word %q", s)
	}
	return uint32(v), nil
}

// exec executes a shell command line.
func (sh *shell) exec(line string) (quit bool, err error) {
	toks := strings.Fields(line)
	switch toks[0] {
	case "quit", "exit":
		return true, nil

	case "help":
		names := make([]string, 0, len(shellCmds))
		for name := range shellCmds {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(sh.w, "%s\n", shellCmds[name])
		}

	case "read":
		if len(toks) < 2 || len(toks) > 3 {
			return false, fmt.Errorf("usage: %s", shellCmds["read"])
		}
		addr, err := parseWord(toks[1])
		if err != nil {
			return false, err
		}
		n := 1
		if len(toks) == 3 {
			n, err = strconv.Atoi(toks[2])
			if err != nil || n < 1 {
				return false, fmt.Errorf("invalid number of words %q", toks[2])
			}
		}
		vs, err := sh.bus.ReadBlock(addr, n)
		if err != nil {
			return false, err
		}
		for i, v := range vs {
			fmt.Fprintf(sh.w, "0x%08x: 0x%08x\n", addr+uint32(4*i), v)
		}

	case "write":
		if len(toks) < 3 {
			return false, fmt.Errorf("usage: %s", shellCmds["write"])
		}
		addr, err := parseWord(toks[1])
		if err != nil {
			return false, err
		}
		vs := make([]uint32, len(toks)-2)
		for i, tok := range toks[2:] {
			vs[i], err = parseWord(tok)
			if err != nil {
				return false, err
			}
		}
		if len(vs) == 1 {
			return false, sh.bus.WriteWord(addr, vs[0])
		}
		return false, sh.bus.WriteBlock(addr, vs)

	case "version":
		v, err := sh.cam.Version()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.w, "firmware: 0x%08x\n", v)

	case "triggers":
		switch {
		case len(toks) == 1:
			on, err := sh.cam.Triggers()
			if err != nil {
				return false, err
			}
			fmt.Fprintf(sh.w, "triggers: %v\n", on)
		case len(toks) == 2 && (toks[1] == "on" || toks[1] == "off"):
			return false, sh.cam.SetTriggers(toks[1] == "on")
		default:
			return false, fmt.Errorf("usage: %s", shellCmds["triggers"])
		}

	default:
		return false, fmt.Errorf("unknown command %q (try help)", toks[0])
	}
	return false, nil
}
