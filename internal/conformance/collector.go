package conformance

import (
	"context"
	"sync"
)

// Collector feeds a Tracker from a channel, for runners that prefer to hand
// outcomes off rather than share the Tracker.
type Collector struct {
	tracker *Tracker
	ch      chan Outcome
	once    sync.Once
}

func NewCollector(tracker *Tracker, buffer int) *Collector {
	return &Collector{
		tracker: tracker,
		ch:      make(chan Outcome, buffer),
	}
}

// Outcomes is the send side. Sending after Close panics.
func (c *Collector) Outcomes() chan<- Outcome {
	return c.ch
}

// Run records outcomes until the channel is closed and drained, or ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-c.ch:
			if !ok {
				return nil
			}
			c.tracker.Record(o)
		}
	}
}

// Close ends Run once buffered outcomes are drained. Safe to call twice.
func (c *Collector) Close() {
	c.once.Do(func() {
		close(c.ch)
	})
}
