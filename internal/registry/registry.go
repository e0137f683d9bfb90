// Package registry implements spec §4.9: the match_id → Replay mapping
// that the acceptor/dispatcher hands connections to.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adred-codev/replayrelay/internal/mergeengine"
	"github.com/adred-codev/replayrelay/internal/replay"
	"github.com/adred-codev/replayrelay/internal/wire"
)

// Registry is spec §4.9's Replays registry. Mutation and lookup are
// serialized on a single mutex, which stands in for the spec's
// single-executor ownership discipline (this repo uses goroutines rather
// than true single-threaded cooperative executors — see the merge engine
// and Replay packages for the same adaptation).
type Registry struct {
	mu      sync.Mutex
	replays map[uint32]*replay.Replay

	ctx    context.Context
	cfg    replay.Config
	saver  *replay.Saver
	logger zerolog.Logger
}

// New builds an empty registry. ctx is the server's shutdown_token node;
// every Replay created here is a child of it.
func New(ctx context.Context, cfg replay.Config, saver *replay.Saver, logger zerolog.Logger) *Registry {
	return &Registry{
		replays: make(map[uint32]*replay.Replay),
		ctx:     ctx,
		cfg:     cfg,
		saver:   saver,
		logger:  logger,
	}
}

// Assign implements spec §4.9's assign(conn) operation.
func (reg *Registry) Assign(conn *wire.Connection) {
	matchID := conn.Header.MatchID

	reg.mu.Lock()
	r, ok := reg.replays[matchID]
	if !ok {
		strategy := mergeengine.NewQuorumStrategy(reg.cfg.MergeQuorumSize, reg.cfg.StreamComparisonDistance)
		r = replay.New(reg.ctx, matchID, reg.cfg, strategy, reg.saver, reg.logger)
		reg.replays[matchID] = r
		r.Start()
		go reg.reap(matchID, r)
	}
	reg.mu.Unlock()

	if conn.Header.Kind == wire.KindWriter && !r.Accepting() {
		reg.logger.Info().
			Uint32("match_id", matchID).
			Str("conn_id", conn.ID).
			Msg("rejected writer: replay not accepting")
		conn.Close()
		return
	}

	r.HandleConnection(conn)
}

// reap removes a Replay from the map once its lifecycle task completes.
func (reg *Registry) reap(matchID uint32, r *replay.Replay) {
	<-r.Done()
	reg.mu.Lock()
	if reg.replays[matchID] == r {
		delete(reg.replays, matchID)
	}
	reg.mu.Unlock()
}

// Len reports the number of currently tracked Replays, used by health
// reporting and tests.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.replays)
}

// StateCounts reports how many tracked Replays are in each lifecycle state,
// feeding the replay_state gauge (SPEC_FULL.md §C idle-writer metric).
func (reg *Registry) StateCounts() map[string]int {
	reg.mu.Lock()
	replays := make([]*replay.Replay, 0, len(reg.replays))
	for _, r := range reg.replays {
		replays = append(replays, r)
	}
	reg.mu.Unlock()

	counts := make(map[string]int)
	for _, r := range replays {
		counts[r.State().String()]++
	}
	return counts
}

// Shutdown cancels every tracked Replay's node in the shutdown_token tree.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, r := range reg.replays {
		r.Shutdown()
	}
}
