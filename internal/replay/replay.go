// Package replay implements spec §4.8: the per-match-id Replay lifecycle
// state machine, and §4.9's registry is built directly on top of it.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/replayrelay/internal/config"
	"github.com/adred-codev/replayrelay/internal/event"
	"github.com/adred-codev/replayrelay/internal/mergeengine"
	"github.com/adred-codev/replayrelay/internal/wire"
)

// State is one of spec §4.8's lifecycle states.
type State int

const (
	StateAccepting State = iota
	StateDrainingWriters
	StateFinalizing
	StateSaving
	StateDrainingReaders
	StateCancelled
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "ACCEPTING"
	case StateDrainingWriters:
		return "DRAINING_WRITERS"
	case StateFinalizing:
		return "FINALIZING"
	case StateSaving:
		return "SAVING"
	case StateDrainingReaders:
		return "DRAINING_READERS"
	case StateCancelled:
		return "CANCELLED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Config bundles the replay.* tunables a Replay needs, translated from
// integer seconds/milliseconds config fields into time.Durations once at
// startup.
type Config struct {
	ForcedTimeout            time.Duration
	IdleWriterWindow         time.Duration
	Delay                    time.Duration
	UpdateInterval           time.Duration
	MergeQuorumSize          int
	StreamComparisonDistance int
	HeaderTimeout            time.Duration
}

// ConfigFromApp builds a replay.Config from the resolved application
// config (internal/config.Config), reusing server.connection_accept_timeout_s
// as the bound on a writer's application-level header read too.
func ConfigFromApp(c *config.Config) Config {
	return Config{
		ForcedTimeout:            c.Replay.ForcedTimeout(),
		IdleWriterWindow:         c.Replay.IdleWriterWindow(),
		Delay:                    c.Replay.Delay(),
		UpdateInterval:           c.Replay.UpdateInterval(),
		MergeQuorumSize:          c.Replay.MergeQuorumSize,
		StreamComparisonDistance: c.Replay.StreamComparisonDistanceB,
		HeaderTimeout:            c.Server.ConnectionAcceptTimeout(),
	}
}

// Replay is spec §3/§4.8: the per-match-id object owning a Merger, Sender,
// Saver, and MergedReplay, and driving the lifecycle state machine.
type Replay struct {
	ID     uint32
	logger zerolog.Logger
	cfg    Config

	merger *mergeengine.Merger
	sender *mergeengine.Sender
	saver  *Saver
	merged *mergeengine.MergedReplay

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	accepting bool
	writers   int
	readers   int
	name      string
	nameSet   bool

	countChanged *event.Notifier
	connWG       sync.WaitGroup

	done chan struct{}
}

// New builds a Replay bound to id, deriving its cancellation context from
// parent (itself a node in the §5 shutdown_token tree).
func New(parent context.Context, id uint32, cfg Config, strategy mergeengine.MergeStrategy, saver *Saver, logger zerolog.Logger) *Replay {
	ctx, cancel := context.WithCancel(parent)
	log := logger.With().Uint32("match_id", id).Logger()

	merger := mergeengine.NewMerger(strategy, cfg.Delay, cfg.UpdateInterval, cfg.HeaderTimeout, time.Now, log)
	sender := mergeengine.NewSender(log)

	return &Replay{
		ID:           id,
		logger:       log,
		cfg:          cfg,
		merger:       merger,
		sender:       sender,
		saver:        saver,
		merged:       strategy.MergedReplay(),
		ctx:          ctx,
		cancel:       cancel,
		accepting:    true,
		countChanged: event.New(),
		done:         make(chan struct{}),
	}
}

// Start launches the lifecycle task. Call exactly once per Replay.
func (r *Replay) Start() {
	go r.run()
}

// Done returns a channel closed once the Replay reaches TERMINATED.
func (r *Replay) Done() <-chan struct{} { return r.done }

// State returns the current lifecycle state.
func (r *Replay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Accepting reports whether the Replay currently services new writer
// connections — used by the registry before even calling HandleConnection,
// matching spec §4.9 step 3's "no longer accepting" check for writers.
// Readers are still serviced in states after ACCEPTING (see HandleConnection).
func (r *Replay) Accepting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepting
}

// HandleConnection is spec §4.8's handle_connection(c): the single entry
// point the registry uses to dispatch a connection to this Replay.
func (r *Replay) HandleConnection(conn *wire.Connection) {
	r.mu.Lock()
	if !r.nameSet {
		r.name = conn.Header.Name
		r.nameSet = true
	}
	r.mu.Unlock()

	if conn.Header.Kind == wire.KindWriter {
		r.handleWriter(conn)
		return
	}
	r.handleReader(conn)
}

func (r *Replay) handleWriter(conn *wire.Connection) {
	r.mu.Lock()
	if !r.accepting {
		r.mu.Unlock()
		r.logger.Info().Str("conn_id", conn.ID).Msg("rejected writer: replay no longer accepting")
		conn.Close()
		return
	}
	r.writers++
	r.mu.Unlock()
	r.countChanged.Notify()

	r.connWG.Add(1)
	r.merger.HandleWriter(r.ctx, conn)
	r.connWG.Done()

	r.mu.Lock()
	r.writers--
	r.mu.Unlock()
	r.countChanged.Notify()
}

func (r *Replay) handleReader(conn *wire.Connection) {
	r.mu.Lock()
	if r.state == StateTerminated || r.state == StateCancelled {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.readers++
	r.mu.Unlock()
	r.countChanged.Notify()

	r.connWG.Add(1)
	r.sender.HandleReader(r.ctx, conn, r.merged)
	r.connWG.Done()

	r.mu.Lock()
	r.readers--
	r.mu.Unlock()
	r.countChanged.Notify()
}

func (r *Replay) writerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writers
}

func (r *Replay) readerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readers
}

func (r *Replay) nameSnapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

func (r *Replay) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.logger.Debug().Str("state", s.String()).Msg("replay lifecycle transition")
}

// Shutdown cancels this Replay's node in the shutdown_token tree, driving
// it toward CANCELLED/TERMINATED regardless of its current state.
func (r *Replay) Shutdown() {
	r.cancel()
}

// run is the lifecycle task described in spec §4.8's state diagram.
func (r *Replay) run() {
	defer close(r.done)

	r.setState(StateAccepting)
	if cancelled := r.runAccepting(); cancelled {
		r.finishCancelled()
		return
	}

	r.mu.Lock()
	r.accepting = false
	r.mu.Unlock()
	r.setState(StateDrainingWriters)

	countCh := r.countChanged.Wait()
	cancelled, countCh := r.waitForZero(r.writerCount, countCh)
	if cancelled {
		r.finishCancelled()
		return
	}

	r.setState(StateFinalizing)
	r.merger.Finalize()

	r.setState(StateSaving)
	if err := r.saver.Save(r.ctx, r.ID, r.nameSnapshot(), r.merged); err != nil {
		r.logger.Warn().Err(err).Msg("save step failed; replay still terminates")
	}

	r.setState(StateDrainingReaders)
	cancelled, _ = r.waitForZero(r.readerCount, countCh)
	if cancelled {
		r.finishCancelled()
		return
	}

	r.setState(StateTerminated)
}

// runAccepting drives the ACCEPTING state: the idle-writer timer (reset
// whenever writers becomes non-zero) and the forced total lifetime timer.
// Returns true if the replay should move straight to CANCELLED.
func (r *Replay) runAccepting() (cancelled bool) {
	idleTimer := time.NewTimer(r.cfg.IdleWriterWindow)
	defer idleTimer.Stop()
	forcedTimer := time.NewTimer(r.cfg.ForcedTimeout)
	defer forcedTimer.Stop()

	countCh := r.countChanged.Wait()
	for {
		select {
		case <-r.ctx.Done():
			return true
		case <-forcedTimer.C:
			r.logger.Warn().Msg("replay forced timeout elapsed")
			return true
		case <-idleTimer.C:
			if r.writerCount() == 0 {
				return false
			}
			idleTimer.Reset(r.cfg.IdleWriterWindow)
		case <-countCh:
			countCh = r.countChanged.Wait()
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			if r.writerCount() == 0 {
				idleTimer.Reset(r.cfg.IdleWriterWindow)
			}
		}
	}
}

// waitForZero blocks until countFn() reports zero or ctx is cancelled.
func (r *Replay) waitForZero(countFn func() int, countCh <-chan struct{}) (cancelled bool, next <-chan struct{}) {
	for {
		if countFn() == 0 {
			return false, countCh
		}
		select {
		case <-r.ctx.Done():
			return true, countCh
		case <-countCh:
			countCh = r.countChanged.Wait()
		}
	}
}

func (r *Replay) finishCancelled() {
	r.setState(StateCancelled)
	r.cancel()
	r.connWG.Wait()
	r.setState(StateTerminated)
}
