// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"context"
	"io"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
)

// LiveSource timestamps bytes read from a sniffing connection with the host clock.
// A read returns the characters received since the previous one; they are placed
// back to back, ending at the time the read returned.
type LiveSource struct {
	r        io.Reader
	charTime time.Duration
	start    time.Time
	lastEnd  time.Duration
	buf      []byte

	now func() time.Time
}

// NewLiveSource reads from r at the given baud rate. Offsets count from the call.
func NewLiveSource(r io.Reader, baud int) *LiveSource {
	return &LiveSource{
		r:        r,
		charTime: CharacterTime(baud),
		start:    time.Now(),
		buf:      make([]byte, 256),
		now:      time.Now,
	}
}

// ReadEvents blocks until bytes arrive and returns them as events
func (s *LiveSource) ReadEvents() ([]iso7816.ByteEvent, error) {
	n, err := s.r.Read(s.buf)
	if n == 0 {
		return nil, err
	}

	arrival := s.now().Sub(s.start)
	events := make([]iso7816.ByteEvent, n)
	for i := 0; i < n; i++ {
		end := arrival - time.Duration(n-1-i)*s.charTime
		start := end - s.charTime
		if start < s.lastEnd {
			// the host saw the chunk late: keep events ordered
			start = s.lastEnd
			end = start + s.charTime
		}
		events[i] = iso7816.ByteEvent{Value: s.buf[i], Start: start, End: end}
		s.lastEnd = end
	}
	return events, err
}

// Run reads events until ctx is done or reading fails, sending them to out in read
// order.
func (s *LiveSource) Run(ctx context.Context, out chan<- iso7816.ByteEvent) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, err := s.ReadEvents()
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}
	}
}
