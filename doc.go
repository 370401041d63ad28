// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package epix holds code to control ePix10ka quad cameras.
//
// The camera firmware is reached through a register bus (package bus),
// either over a memory-mapped window or over the SRP protocol of a PGP
// card (package pgp). Package camera sequences the startup of a camera,
// package adc trains the ADC lane delays and package epix10ka configures
// the pixel matrices of the ASICs.
package epix // import "github.com/go-lpc/epix"

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/go-lpc/epix"

// Version returns the version of epix and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	if b.Main.Path == root {
		return moduleVersion(&b.Main)
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		return moduleVersion(m)
	}
	return "", ""
}

func moduleVersion(m *debug.Module) (version, sum string) {
	if m.Replace == nil {
		return m.Version, m.Sum
	}
	switch r := m.Replace; {
	case r.Version != "" && r.Path != "":
		return fmt.Sprintf("%s %s", r.Path, r.Version), r.Sum
	case r.Version != "":
		return r.Version, r.Sum
	case r.Path != "":
		return r.Path, r.Sum
	default:
		return m.Version + "*", ""
	}
}
