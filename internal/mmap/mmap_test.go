// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap // import "github.com/go-lpc/epix/internal/mmap"

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestHandleFrom(t *testing.T) {
	h := HandleFrom([]byte{0, 1, 2, 3})

	if got, want := h.Len(), 4; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	if got, want := h.At(1), byte(1); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}

	_, err := h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	buf := make([]byte, 2)
	n, err := h.WriteAt([]byte{0xa, 0xb}, 2)
	if err != nil || n != 2 {
		t.Fatalf("could not write: n=%d, err=%+v", n, err)
	}
	n, err = h.ReadAt(buf, 2)
	if err != nil || n != 2 {
		t.Fatalf("could not read: n=%d, err=%+v", n, err)
	}
	if got, want := buf, []byte{0xa, 0xb}; got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("invalid read-back: got=%v, want=%v", got, want)
	}

	_, err = h.ReadAt(buf, 3)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid short-read error: %+v", err)
	}

	_, err = h.WriteAt(buf, 3)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid short-write error: %+v", err)
	}
}

func TestOpen(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "bar0")
	err := os.WriteFile(fname, make([]byte, os.Getpagesize()), 0644)
	if err != nil {
		t.Fatalf("could not create file: %+v", err)
	}

	_, err = Open(fname, 1, 16)
	if err == nil {
		t.Fatalf("expected an error for unaligned offset")
	}

	h, err := Open(fname, 0, 16)
	if err != nil {
		t.Fatalf("could not mmap file: %+v", err)
	}

	_, err = h.WriteAt([]byte{1, 2, 3, 4}, 4)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close handle: %+v", err)
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read back file: %+v", err)
	}
	if got, want := raw[4:8], []byte{1, 2, 3, 4}; string(got) != string(want) {
		t.Fatalf("invalid file content: got=%v, want=%v", got, want)
	}
}
