package mergeengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/replayrelay/internal/wire"
)

// Merger is spec §4.6: the per-Replay coordinator over writer connections.
// One Merger instance is owned by a single Replay and must not be shared.
type Merger struct {
	strategy      MergeStrategy
	delay         time.Duration
	tickInterval  time.Duration
	headerTimeout time.Duration
	clock         func() time.Time
	logger        zerolog.Logger
}

// NewMerger builds a Merger bound to strategy. delay and tickInterval feed
// each writer's DelayTracker (replay.delay_s / replay.update_interval_ms);
// headerTimeout bounds how long a writer connection may take to produce its
// application-level header before it is dropped.
func NewMerger(strategy MergeStrategy, delay, tickInterval, headerTimeout time.Duration, clock func() time.Time, logger zerolog.Logger) *Merger {
	return &Merger{
		strategy:      strategy,
		delay:         delay,
		tickInterval:  tickInterval,
		headerTimeout: headerTimeout,
		clock:         clock,
		logger:        logger,
	}
}

// HandleWriter runs the full lifecycle of spec §4.6 for one accepted writer
// connection: register with the strategy, read the application header
// under a bounded deadline, then spawn the three cooperating pumps until
// the stream finishes or ctx is cancelled. It blocks until the connection
// is fully drained.
func (m *Merger) HandleWriter(ctx context.Context, conn *wire.Connection) {
	ws := NewWriterStream()
	token := m.strategy.ReplayAdded(ws)

	log := m.logger.With().
		Str("conn_id", conn.ID).
		Uint32("match_id", conn.Header.MatchID).
		Str("name", conn.Header.Name).
		Logger()

	defer func() {
		m.strategy.ReplayRemoved(token)
		conn.Close()
	}()

	conn.SetDeadline(m.clock().Add(m.headerTimeout))
	headerDone := make(chan struct{})
	go func() {
		defer close(headerDone)
		ws.ReadHeader(conn)
	}()

	select {
	case <-headerDone:
	case <-ctx.Done():
		conn.Close()
		<-headerDone
	}
	conn.SetDeadline(time.Time{})

	if ws.Position().Kind == PosFinished {
		log.Info().Msg("writer dropped before producing a valid header")
		return
	}
	m.strategy.ReplayHeaderAdded(token)

	var wg sync.WaitGroup
	wg.Add(3)

	bodyDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(bodyDone)
		ws.ReadBody()
	}()

	// ReadBody's socket read has no deadline of its own and does not observe
	// ctx directly (net.Conn.Read ignores contexts). Closing the connection
	// is what composes that blocking read with cancellation, per spec §5:
	// cancellation must unblock every suspension point promptly.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-bodyDone:
		}
	}()

	go func() {
		defer wg.Done()
		m.pumpProgress(ctx, ws, token)
	}()

	go func() {
		defer wg.Done()
		m.pumpDelay(ctx, ws, token)
	}()

	wg.Wait()
	log.Debug().Msg("writer stream finished")
}

// pumpProgress is the Merger subtask that calls strategy.ReplayNewData on
// each WriterStream append, exiting once the stream reaches FINISHED.
func (m *Merger) pumpProgress(ctx context.Context, ws *WriterStream, token Token) {
	progress := ws.Progress()
	for {
		select {
		case <-ctx.Done():
			return
		case <-progress:
			progress = ws.Progress()
			m.strategy.ReplayNewData(token)
			if ws.Finished() {
				return
			}
		}
	}
}

// pumpDelay runs the writer's DelayTracker until it reports the writer
// fully caught up (or ctx is cancelled), feeding each sample to the
// strategy.
func (m *Merger) pumpDelay(ctx context.Context, ws *WriterStream, token Token) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	tracker := NewDelayTracker(ws, m.delay, m.clock, func(s DelayedSample) {
		m.strategy.ReplayNewDelayedData(token, s)
	})
	tracker.Run(ctx, ticker.C)
}

// Finalize delegates to the strategy, per spec §4.6.
func (m *Merger) Finalize() {
	m.strategy.Finalize()
}
