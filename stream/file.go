// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Records of a stream file are laid out as:
//
//	[size u32][header u32][payload]
//
// in little-endian order, where size counts the header and the payload,
// and the header holds the channel in bits [31:24], the error flags in
// bits [23:16] and the frame flags in bits [15:0].
const (
	hdrSize    = 4
	maxRecSize = 1 << 30
)

func header(f Frame) uint32 {
	return uint32(f.Channel)<<24 | uint32(f.Error)<<16 | uint32(f.Flags)
}

// FileWriter writes frames as records of a stream file.
type FileWriter struct {
	mu  sync.Mutex
	w   *bufio.Writer
	buf [8]byte
	err error
	n   int64 // number of records written
}

// NewFileWriter returns a sink writing records to w.
func NewFileWriter(w io.Writer) *FileWriter {
	return &FileWriter{w: bufio.NewWriterSize(w, 1<<20)}
}

// Write writes a frame record.
func (fw *FileWriter) Write(f Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.err != nil {
		return fw.err
	}
	if len(f.Data)+hdrSize > maxRecSize {
		return fmt.Errorf("stream: frame too large (%d bytes)", len(f.Data))
	}
	binary.LittleEndian.PutUint32(fw.buf[0:], uint32(len(f.Data)+hdrSize))
	binary.LittleEndian.PutUint32(fw.buf[4:], header(f))
	_, fw.err = fw.w.Write(fw.buf[:])
	if fw.err != nil {
		fw.err = fmt.Errorf("stream: could not write record header: %w", fw.err)
		return fw.err
	}
	_, fw.err = fw.w.Write(f.Data)
	if fw.err != nil {
		fw.err = fmt.Errorf("stream: could not write record payload: %w", fw.err)
		return fw.err
	}
	fw.n++
	return nil
}

// Records returns the number of records written so far.
func (fw *FileWriter) Records() int64 {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.n
}

// Flush writes buffered records to the underlying writer.
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.err != nil {
		return fw.err
	}
	err := fw.w.Flush()
	if err != nil {
		return fmt.Errorf("stream: could not flush records: %w", err)
	}
	return nil
}

// FileReader reads back the records of a stream file.
// It is a Source.
type FileReader struct {
	r   *bufio.Reader
	buf [8]byte
}

func NewFileReader(r io.Reader) *FileReader {
	return &FileReader{r: bufio.NewReader(r)}
}

// Read returns the next frame, or io.EOF at the end of the file.
func (fr *FileReader) Read(ctx context.Context) (Frame, error) {
	var f Frame
	if err := ctx.Err(); err != nil {
		return f, err
	}

	_, err := io.ReadFull(fr.r, fr.buf[:])
	switch {
	case errors.Is(err, io.EOF):
		return f, io.EOF
	case err != nil:
		return f, fmt.Errorf("stream: could not read record header: %w", err)
	}

	size := binary.LittleEndian.Uint32(fr.buf[0:])
	hdr := binary.LittleEndian.Uint32(fr.buf[4:])
	if size < hdrSize || size > maxRecSize {
		return f, fmt.Errorf("stream: invalid record size %d", size)
	}
	f.Channel = Channel(hdr >> 24)
	f.Error = uint8(hdr >> 16)
	f.Flags = uint16(hdr)
	f.Data = make([]byte, size-hdrSize)
	_, err = io.ReadFull(fr.r, f.Data)
	if err != nil {
		return f, fmt.Errorf("stream: could not read record payload: %w", io.ErrUnexpectedEOF)
	}
	return f, nil
}

var (
	_ Sink   = (*FileWriter)(nil)
	_ Source = (*FileReader)(nil)
)
