// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Metrics holds the counters of a Dispatcher.
type Metrics struct {
	Frames  *prometheus.CounterVec // frames received, per channel
	Bytes   *prometheus.CounterVec // payload bytes received, per channel
	Errors  *prometheus.CounterVec // frames flagged with a transport error, per channel
	Dropped *prometheus.CounterVec // frames dropped, per sink
	Queued  *prometheus.GaugeVec   // queue occupancy, per sink
}

func newMetrics() *Metrics {
	return &Metrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epix",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Number of frames received.",
		}, []string{"channel"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epix",
			Subsystem: "stream",
			Name:      "bytes_total",
			Help:      "Number of payload bytes received.",
		}, []string{"channel"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epix",
			Subsystem: "stream",
			Name:      "frame_errors_total",
			Help:      "Number of frames flagged with a transport error.",
		}, []string{"channel"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epix",
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Number of frames dropped because a sink queue was full.",
		}, []string{"sink"}),
		Queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "epix",
			Subsystem: "stream",
			Name:      "queued_frames",
			Help:      "Number of frames waiting in a sink queue.",
		}, []string{"sink"}),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Frames, m.Bytes, m.Errors, m.Dropped, m.Queued} {
		err := reg.Register(c)
		if err != nil {
			return err
		}
	}
	return nil
}

type config struct {
	msg *log.Logger
	reg prometheus.Registerer
}

// Option configures a Dispatcher.
type Option func(*config)

// WithLogger sets the logger of the dispatcher.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithRegisterer registers the dispatcher metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *config) {
		cfg.reg = reg
	}
}

type route struct {
	name   string
	sink   Sink
	policy Policy
	chans  [NumChannels]bool
	queue  chan Frame
}

// Dispatcher forwards frames from sources to sinks.
type Dispatcher struct {
	msg     *log.Logger
	metrics *Metrics

	mu     sync.Mutex
	srcs   []Source
	routes []*route
	names  map[string]struct{}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts ...Option) (*Dispatcher, error) {
	cfg := config{
		msg: log.New(os.Stdout, "stream: ", 0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Dispatcher{
		msg:     cfg.msg,
		metrics: newMetrics(),
		names:   make(map[string]struct{}),
	}
	if cfg.reg != nil {
		err := d.metrics.register(cfg.reg)
		if err != nil {
			return nil, fmt.Errorf("stream: could not register metrics: %w", err)
		}
	}
	return d, nil
}

// Metrics returns the dispatcher counters.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// AddSource adds a frame producer.
func (d *Dispatcher) AddSource(src Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.srcs = append(d.srcs, src)
}

// AddSink connects a sink to the provided channels, through a queue of
// depth frames. With no channel, the sink receives every channel.
func (d *Dispatcher) AddSink(name string, sink Sink, policy Policy, depth int, chans ...Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.names[name]; dup {
		return fmt.Errorf("stream: duplicate sink %q", name)
	}
	if depth < 1 {
		return fmt.Errorf("stream: invalid queue depth %d for sink %q", depth, name)
	}
	r := &route{
		name:   name,
		sink:   sink,
		policy: policy,
		queue:  make(chan Frame, depth),
	}
	if len(chans) == 0 {
		for i := range r.chans {
			r.chans[i] = true
		}
	}
	for _, ch := range chans {
		if ch >= NumChannels {
			return fmt.Errorf("stream: invalid channel %d for sink %q", ch, name)
		}
		r.chans[ch] = true
	}
	d.names[name] = struct{}{}
	d.routes = append(d.routes, r)
	return nil
}

// Run dispatches frames until every source is exhausted, ctx is done or
// a sink fails. Queued frames are delivered before Run returns, unless
// a sink failed.
// Run may only be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	var (
		srcs   = append([]Source(nil), d.srcs...)
		routes = append([]*route(nil), d.routes...)
	)
	d.mu.Unlock()

	if len(srcs) == 0 {
		return fmt.Errorf("stream: no source")
	}

	// sinks are only interrupted by the failure of one of them, so that
	// queued frames are delivered when ctx is done.
	sinks, sctx := errgroup.WithContext(context.Background())
	for _, r := range routes {
		r := r
		sinks.Go(func() error {
			return d.consume(sctx, r)
		})
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sctx.Done():
			cancel()
		case <-pctx.Done():
		}
	}()

	prods, gctx := errgroup.WithContext(pctx)
	for _, src := range srcs {
		src := src
		prods.Go(func() error {
			return d.produce(gctx, src, routes)
		})
	}
	perr := prods.Wait()
	for _, r := range routes {
		close(r.queue)
	}
	serr := sinks.Wait()

	switch {
	case serr != nil:
		return serr
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return perr
}

func (d *Dispatcher) produce(ctx context.Context, src Source, routes []*route) error {
	for {
		f, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("stream: could not read frame: %w", err)
		}
		if f.Channel >= NumChannels {
			d.msg.Printf("discarding frame on invalid channel %d", f.Channel)
			continue
		}

		lbl := strconv.Itoa(int(f.Channel))
		d.metrics.Frames.WithLabelValues(lbl).Inc()
		d.metrics.Bytes.WithLabelValues(lbl).Add(float64(len(f.Data)))
		if f.Error != 0 {
			d.metrics.Errors.WithLabelValues(lbl).Inc()
		}

		for _, r := range routes {
			if !r.chans[f.Channel] {
				continue
			}
			switch r.policy {
			case Drop:
				select {
				case r.queue <- f:
					d.metrics.Queued.WithLabelValues(r.name).Inc()
				default:
					d.metrics.Dropped.WithLabelValues(r.name).Inc()
				}
			default:
				select {
				case r.queue <- f:
					d.metrics.Queued.WithLabelValues(r.name).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (d *Dispatcher) consume(ctx context.Context, r *route) error {
	for f := range r.queue {
		d.metrics.Queued.WithLabelValues(r.name).Dec()
		if ctx.Err() != nil {
			continue // a sibling sink failed.
		}
		err := r.sink.Write(f)
		if err != nil {
			return fmt.Errorf("stream: sink %q could not write frame: %w", r.name, err)
		}
	}
	return nil
}
