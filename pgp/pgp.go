// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pgp talks to an ePix camera through a PGP lane of a PCIe data card.
//
// Virtual channel 0 of the lane carries the SRPv3 register protocol,
// virtual channels 1 to 3 carry the pixel data, the pseudo-scope and the
// slow monitor streams.
package pgp // import "github.com/go-lpc/epix/pgp"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/epix/stream"
	"golang.org/x/sync/errgroup"
)

const (
	maxFrameSize = 4 << 20
	numLanes     = 8
)

// frame is a frame exchanged with the driver.
type frame struct {
	dest  uint32
	flags uint32
	errs  uint32
	data  []byte
}

// device is the frame-level interface of the data card driver.
type device interface {
	readFrame(buf []byte) (frame, error)
	writeFrame(dest uint32, data []byte) error
	close() error
}

// Dest returns the driver destination of a virtual channel of a lane.
func Dest(lane int, vc stream.Channel) uint32 {
	return uint32(lane)<<8 | uint32(vc)
}

type config struct {
	msg     *log.Logger
	timeout time.Duration
	depth   int
}

// Option configures a Card.
type Option func(*config)

// WithLogger sets the logger of the card.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithTimeout sets the deadline of a register transaction.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithQueue sets the depth of the per-channel frame queues.
func WithQueue(depth int) Option {
	return func(cfg *config) {
		if depth < 1 {
			depth = 1
		}
		cfg.depth = depth
	}
}

// Card is a PGP lane of a PCIe data card.
type Card struct {
	dev  device
	lane int
	cfg  config

	wmu sync.Mutex // serializes driver writes

	vcs  [stream.NumChannels]chan stream.Frame
	quit context.CancelFunc
	done chan struct{}
	grp  *errgroup.Group

	mu      sync.Mutex
	dropped [stream.NumChannels]uint64

	srp *SRP
}

// Open opens a lane of the data card at path.
func Open(path string, lane int, opts ...Option) (*Card, error) {
	if lane < 0 || lane >= numLanes {
		return nil, fmt.Errorf("pgp: invalid lane %d", lane)
	}
	dev, err := openDatadev(path)
	if err != nil {
		return nil, err
	}
	var dests []uint32
	for vc := stream.Channel(0); vc < stream.NumChannels; vc++ {
		dests = append(dests, Dest(lane, vc))
	}
	err = dev.setMask(dests...)
	if err != nil {
		_ = dev.close()
		return nil, err
	}
	return newCard(dev, lane, opts...), nil
}

func newCard(dev device, lane int, opts ...Option) *Card {
	cfg := config{
		msg:     log.New(os.Stdout, "pgp: ", 0),
		timeout: 1 * time.Second,
		depth:   64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Card{
		dev:  dev,
		lane: lane,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	for i := range c.vcs {
		c.vcs[i] = make(chan stream.Frame, cfg.depth)
	}
	c.srp = newSRP(c, cfg.timeout)

	ctx, cancel := context.WithCancel(context.Background())
	c.quit = cancel
	c.grp, ctx = errgroup.WithContext(ctx)
	c.grp.Go(func() error {
		defer close(c.done)
		return c.run(ctx)
	})
	return c
}

// Lane returns the PGP lane index.
func (c *Card) Lane() int { return c.lane }

// Bus returns the register bus of the camera behind the lane.
func (c *Card) Bus() *SRP { return c.srp }

// Dropped returns the number of frames dropped on a channel because its
// queue was full.
func (c *Card) Dropped(ch stream.Channel) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped[ch]
}

func (c *Card) write(vc stream.Channel, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.dev.writeFrame(Dest(c.lane, vc), data)
}

// run demultiplexes the frames of the lane into the channel queues.
func (c *Card) run(ctx context.Context) error {
	buf := make([]byte, maxFrameSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f, err := c.dev.readFrame(buf)
		switch {
		case errors.Is(err, errNoFrame):
			continue
		case err != nil:
			c.cfg.msg.Printf("could not read frame: %+v", err)
			return err
		}

		var (
			lane = int(f.dest >> 8)
			vc   = stream.Channel(f.dest & 0xff)
		)
		if lane != c.lane || vc >= stream.NumChannels {
			c.cfg.msg.Printf("discarding frame for lane=%d, vc=%d", lane, vc)
			continue
		}

		frame := stream.Frame{
			Channel: vc,
			Flags:   uint16(f.flags),
			Error:   uint8(f.errs),
			Data:    append([]byte(nil), f.data...),
		}
		select {
		case c.vcs[vc] <- frame:
		default:
			c.mu.Lock()
			c.dropped[vc]++
			c.mu.Unlock()
		}
	}
}

// Source returns the frame source of a data channel.
// The source ends with io.EOF once the card is closed.
func (c *Card) Source(ch stream.Channel) stream.Source {
	return stream.SourceFunc(func(ctx context.Context) (stream.Frame, error) {
		select {
		case f := <-c.vcs[ch]:
			return f, nil
		case <-c.done:
			return stream.Frame{}, io.EOF
		case <-ctx.Done():
			return stream.Frame{}, ctx.Err()
		}
	})
}

// Close stops the lane reader and closes the device.
func (c *Card) Close() error {
	c.quit()
	err := c.grp.Wait()
	if e := c.dev.close(); e != nil && err == nil {
		err = fmt.Errorf("pgp: could not close device: %w", e)
	}
	return err
}
