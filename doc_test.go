// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package epix

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		info *debug.BuildInfo
		vers string
		sum  string
	}{
		{
			name: "nil",
		},
		{
			name: "main",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: root, Version: "(devel)"},
			},
			vers: "(devel)",
		},
		{
			name: "dep",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.org/daq"},
				Deps: []*debug.Module{
					{Path: "go.etcd.io/bbolt", Version: "v1.3.6"},
					{Path: root, Version: "v0.3.0", Sum: "h1:xyz"},
				},
			},
			vers: "v0.3.0",
			sum:  "h1:xyz",
		},
		{
			name: "replace-path",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.3.0",
						Replace: &debug.Module{Path: "../epix"},
					},
				},
			},
			vers: "../epix",
		},
		{
			name: "replace-path-version",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.3.0",
						Replace: &debug.Module{Path: "example.org/epix", Version: "v0.4.0", Sum: "h1:abc"},
					},
				},
			},
			vers: "example.org/epix v0.4.0",
			sum:  "h1:abc",
		},
		{
			name: "missing",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.org/daq"},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(tc.info)
			if got, want := vers, tc.vers; got != want {
				t.Fatalf("invalid version: got=%q, want=%q", got, want)
			}
			if got, want := sum, tc.sum; got != want {
				t.Fatalf("invalid sum: got=%q, want=%q", got, want)
			}
		})
	}
}
