// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package poll provides bounded waits that honor context cancellation.
package poll // import "github.com/go-lpc/epix/internal/poll"

import (
	"context"
	"time"
)

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tck := time.NewTimer(d)
	defer tck.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tck.C:
		return nil
	}
}

// Until evaluates cond every period until it holds or timeout elapses.
// Until reports whether cond held before the deadline.
// Errors from cond and context cancellation abort the wait.
func Until(ctx context.Context, period, timeout time.Duration, cond func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		err = Sleep(ctx, period)
		if err != nil {
			return false, err
		}
	}
}
