package mergeengine

import (
	"context"
	"time"
)

// DelayedSample is the strategy-facing projection of a delayed
// StreamPosition: whether a header has been observed, how many body bytes
// are visible, and whether the writer has finished as of the delayed
// instant.
type DelayedSample struct {
	HasHeader bool
	Len       int
	Finished  bool
}

func sampleFromPosition(p StreamPosition) DelayedSample {
	switch p.Kind {
	case PosHeader:
		return DelayedSample{HasHeader: true}
	case PosData:
		return DelayedSample{HasHeader: true, Len: p.Len}
	case PosFinished:
		return DelayedSample{HasHeader: true, Len: p.Len, Finished: true}
	default:
		return DelayedSample{}
	}
}

type trackerSample struct {
	at  time.Time
	pos StreamPosition
}

// DelayTracker implements spec §4.4: given a WriterStream and a delay D, it
// produces a sequence of delayed positions each reflecting the stream's
// state as of now-D. Implemented as a FIFO of timestamped samples drained
// on every progress event and on every tick; this is the polling
// equivalent of the spec's lazy-stream description in §9.
type DelayTracker struct {
	stream    *WriterStream
	delay     time.Duration
	now       func() time.Time
	onAdvance func(DelayedSample)
}

// NewDelayTracker builds a tracker. now is injectable so tests can control
// elapsed time without real sleeps (spec §5: "pausing the clock... is
// supported because sleeps are the only time source").
func NewDelayTracker(stream *WriterStream, delay time.Duration, now func() time.Time, onAdvance func(DelayedSample)) *DelayTracker {
	return &DelayTracker{stream: stream, delay: delay, now: now, onAdvance: onAdvance}
}

// Run drives the tracker until the stream's delayed view catches up to
// FINISHED or ctx is cancelled. tick should deliver a value at roughly
// update_interval_ms cadence; callers typically pass a time.Ticker's C.
func (t *DelayTracker) Run(ctx context.Context, tick <-chan time.Time) {
	var fifo []trackerSample
	var lastDelayed DelayedSample
	progress := t.stream.Progress()

	recompute := func() bool {
		cur := t.stream.Position()
		threshold := t.now().Add(-t.delay)

		for len(fifo) > 1 && !fifo[1].at.After(threshold) {
			fifo = fifo[1:]
		}

		var delayedPos StreamPosition
		if len(fifo) > 0 && !fifo[0].at.After(threshold) {
			delayedPos = fifo[0].pos
		}

		delayed := sampleFromPosition(delayedPos)
		if delayed != lastDelayed {
			lastDelayed = delayed
			t.onAdvance(delayed)
		}

		curSample := sampleFromPosition(cur)
		return cur.Kind == PosFinished && delayed == curSample
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-progress:
			progress = t.stream.Progress()
			fifo = append(fifo, trackerSample{at: t.now(), pos: t.stream.Position()})
		case <-tick:
		}

		if len(fifo) == 0 {
			fifo = append(fifo, trackerSample{at: t.now(), pos: t.stream.Position()})
		}

		if recompute() {
			return
		}
	}
}
