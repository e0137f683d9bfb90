package mergeengine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/adred-codev/replayrelay/internal/wire"
)

// Sender is spec §4.7: a per-reader-connection streamer over a shared
// MergedReplay. Many Senders may read the same MergedReplay concurrently;
// each owns only its own cursor.
type Sender struct {
	logger zerolog.Logger
}

// NewSender builds a Sender that logs under logger.
func NewSender(logger zerolog.Logger) *Sender {
	return &Sender{logger: logger}
}

// HandleReader streams merged's header and delayed body to conn until the
// replay finishes and the cursor catches up, ctx is cancelled, or a write
// to conn fails. It always closes conn before returning.
func (s *Sender) HandleReader(ctx context.Context, conn *wire.Connection, merged *MergedReplay) {
	defer conn.Close()

	log := s.logger.With().
		Str("conn_id", conn.ID).
		Uint32("match_id", conn.Header.MatchID).
		Str("name", conn.Header.Name).
		Logger()

	out := conn.Writer()

	// net.Conn.Write, like Read, does not observe ctx directly; closing conn
	// is what composes a blocked write with cancellation (spec §5), mirroring
	// Merger.HandleWriter's watcher over ReadBody.
	writeDone := make(chan struct{})
	defer close(writeDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-writeDone:
		}
	}()

	header, ok := s.awaitHeader(ctx, merged)
	if !ok {
		return
	}
	if _, err := out.Write(header); err != nil {
		log.Info().Err(err).Msg("reader connection dropped writing header")
		return
	}

	cursor := 0
	for {
		delayedLen := merged.DelayedDataLen()
		if delayedLen > cursor {
			chunk := merged.Data().Bytes(cursor, delayedLen)
			if _, err := out.Write(chunk); err != nil {
				log.Info().Err(err).Msg("reader connection dropped writing body")
				return
			}
			cursor = delayedLen
		}

		if merged.Finished() && cursor >= merged.DelayedDataLen() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-merged.DelayedProgress():
		}
	}
}

// awaitHeader blocks until merged's header is installed, returning false if
// ctx is cancelled or the replay finishes without ever receiving one (e.g. no
// writer connected before the idle-writer window elapsed).
func (s *Sender) awaitHeader(ctx context.Context, merged *MergedReplay) ([]byte, bool) {
	for {
		if h := merged.Header(); h != nil {
			return h, true
		}
		if merged.Finished() {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-merged.DelayedProgress():
		}
	}
}
