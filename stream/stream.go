// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stream moves camera frames from their sources to their sinks.
//
// Frames are delivered on virtual channels. A Dispatcher runs one
// producer per source and one consumer per sink, connected by bounded
// queues. Ordering is preserved within a channel, never across channels.
package stream // import "github.com/go-lpc/epix/stream"

import (
	"context"
	"fmt"
)

// Channel is a virtual channel of the camera data link.
type Channel uint8

const (
	ChanRegister Channel = iota // register/control traffic
	ChanData                    // pixel data
	ChanScope                   // pseudo-scope
	ChanMonitor                 // slow monitor ADC
	NumChannels
)

func (ch Channel) String() string {
	switch ch {
	case ChanRegister:
		return "register"
	case ChanData:
		return "data"
	case ChanScope:
		return "scope"
	case ChanMonitor:
		return "monitor"
	}
	return fmt.Sprintf("Channel(%d)", uint8(ch))
}

// Frame is an opaque frame received on a virtual channel.
type Frame struct {
	Channel Channel
	Flags   uint16
	Error   uint8 // transport error flags
	Data    []byte
}

// Source delivers frames.
// Read returns io.EOF when the source is exhausted.
type Source interface {
	Read(ctx context.Context) (Frame, error)
}

// Sink consumes frames.
type Sink interface {
	Write(f Frame) error
}

// SourceFunc adapts a function into a Source.
type SourceFunc func(ctx context.Context) (Frame, error)

func (f SourceFunc) Read(ctx context.Context) (Frame, error) { return f(ctx) }

// SinkFunc adapts a function into a Sink.
type SinkFunc func(f Frame) error

func (f SinkFunc) Write(frame Frame) error { return f(frame) }

// Policy is the backpressure policy of a sink queue.
type Policy uint8

const (
	Block Policy = iota // producers wait for room in the queue
	Drop                // frames that do not fit are dropped and counted
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case Drop:
		return "drop"
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}
