// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import (
	"context"
	"errors"
	"runtime"
	"time"
)

// DrainTap pumps tap events to sink until ctx is done, then returns
// ctx.Err().
//
// # Description
//
//	The tap ring permits exactly one consumer. DrainTap is that
//	consumer: a host that needs the event stream in several places (a
//	journal recorder, a bridge publisher) runs one DrainTap goroutine
//	and fans out inside sink. Polling follows the same spin-then-park
//	shape as PopWait so a quiet bus costs a timer, not a spinning core.
//
// # Thread Safety
//
//	At most one DrainTap (or direct TapPop caller) per bus. The sink
//	runs on the drain goroutine; a slow sink delays tap consumption,
//	never push or pop.
func (b *Bus) DrainTap(ctx context.Context, sink func(Event)) error {
	if sink == nil {
		return errors.New("bus: drain sink must not be nil")
	}
	for spins := 0; ; spins++ {
		if ev, ok := b.TapPop(); ok {
			sink(ev)
			spins = 0
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if spins < popWaitSpin {
			runtime.Gosched()
			continue
		}
		timer := time.NewTimer(popWaitPark)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
