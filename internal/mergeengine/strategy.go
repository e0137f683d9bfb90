package mergeengine

import (
	"sync"
)

// Token is the opaque per-writer handle a MergeStrategy hands back from
// ReplayAdded, per spec §4.5.
type Token int

// MergeStrategy is spec §4.5's operation set, exposed to the Merger.
type MergeStrategy interface {
	ReplayAdded(w *WriterStream) Token
	ReplayRemoved(token Token)
	ReplayHeaderAdded(token Token)
	ReplayNewData(token Token)
	ReplayNewDelayedData(token Token, sample DelayedSample)
	MergedReplay() *MergedReplay
	Finalize()
}

// NullMergeStrategy is the spec's acknowledged stub (§9 open questions):
// it tracks nothing and never advances the merged replay beyond whatever
// Finalize() forces. Useful as a Merger collaborator in tests that only
// exercise connection plumbing, not merge semantics.
type NullMergeStrategy struct {
	merged *MergedReplay
}

// NewNullMergeStrategy builds a strategy that performs no merging.
func NewNullMergeStrategy() *NullMergeStrategy {
	return &NullMergeStrategy{merged: NewMergedReplay()}
}

func (n *NullMergeStrategy) ReplayAdded(*WriterStream) Token           { return 0 }
func (n *NullMergeStrategy) ReplayRemoved(Token)                       {}
func (n *NullMergeStrategy) ReplayHeaderAdded(Token)                   {}
func (n *NullMergeStrategy) ReplayNewData(Token)                       {}
func (n *NullMergeStrategy) ReplayNewDelayedData(Token, DelayedSample) {}
func (n *NullMergeStrategy) MergedReplay() *MergedReplay               { return n.merged }
func (n *NullMergeStrategy) Finalize() {
	n.merged.AdvanceDelayedData(n.merged.Data().Len())
	n.merged.SetFinished()
}

type trackedWriter struct {
	stream     *WriterStream
	delayedLen int
	hasHeader  bool
	finished   bool
	joinSeq    int
}

// QuorumStrategy is spec §4.5's live merge strategy. Q is the quorum size,
// window is the comparison window W in bytes.
type QuorumStrategy struct {
	mu      sync.Mutex
	merged  *MergedReplay
	quorum  int
	window  int
	writers map[Token]*trackedWriter
	nextTok Token
	nextSeq int

	headerInstalled bool
}

// NewQuorumStrategy builds a quorum strategy with the given Q and W.
func NewQuorumStrategy(quorum, window int) *QuorumStrategy {
	return &QuorumStrategy{
		merged:  NewMergedReplay(),
		quorum:  quorum,
		window:  window,
		writers: make(map[Token]*trackedWriter),
	}
}

func (q *QuorumStrategy) MergedReplay() *MergedReplay { return q.merged }

func (q *QuorumStrategy) ReplayAdded(w *WriterStream) Token {
	q.mu.Lock()
	defer q.mu.Unlock()
	tok := q.nextTok
	q.nextTok++
	q.writers[tok] = &trackedWriter{stream: w, joinSeq: q.nextSeq}
	q.nextSeq++
	return tok
}

func (q *QuorumStrategy) ReplayRemoved(token Token) {
	q.mu.Lock()
	delete(q.writers, token)
	q.mu.Unlock()
}

func (q *QuorumStrategy) ReplayHeaderAdded(token Token) {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.writers[token]
	if !ok {
		return
	}
	w.hasHeader = true
	if !q.headerInstalled {
		q.headerInstalled = true
		q.merged.AddHeader(w.stream.Header())
	}
	q.tryAdvanceLocked()
}

// ReplayNewData records that a writer produced new undelayed bytes. The
// quorum decision is driven entirely by delayed positions (see
// ReplayNewDelayedData); this hook exists for parity with §4.5's interface
// and future extension (e.g. liveness metrics), not advancement.
func (q *QuorumStrategy) ReplayNewData(Token) {}

func (q *QuorumStrategy) ReplayNewDelayedData(token Token, sample DelayedSample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.writers[token]
	if !ok {
		return
	}
	w.delayedLen = sample.Len
	if sample.HasHeader {
		w.hasHeader = true
		if !q.headerInstalled {
			q.headerInstalled = true
			q.merged.AddHeader(w.stream.Header())
		}
	}
	w.finished = sample.Finished
	q.tryAdvanceLocked()
}

func (q *QuorumStrategy) Finalize() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.merged.AdvanceDelayedData(q.merged.Data().Len())
	q.merged.SetFinished()
}

// tryAdvanceLocked implements §4.5's body phase. Must be called with q.mu
// held. Loops because one advance can unblock another immediately (e.g. a
// writer that was already far ahead).
func (q *QuorumStrategy) tryAdvanceLocked() {
	for q.advanceOnceLocked() {
	}
}

func (q *QuorumStrategy) advanceOnceLocked() bool {
	canonicalLen := q.merged.Data().Len()

	total := len(q.writers)
	if total == 0 {
		return false
	}

	effectiveQuorum := q.quorum
	if total < effectiveQuorum {
		effectiveQuorum = total
	}

	allFinished := true
	var candidates []Token
	for tok, w := range q.writers {
		if !w.finished {
			allFinished = false
		}
		if w.hasHeader && w.delayedLen >= canonicalLen+1 {
			candidates = append(candidates, tok)
		}
	}

	if len(candidates) < effectiveQuorum && !allFinished {
		return false
	}
	if len(candidates) == 0 {
		return false
	}

	windowEnd := canonicalLen + q.window

	type group struct {
		key       string
		members   []Token
		earliestSeq int
	}
	groups := make(map[string]*group)
	for _, tok := range candidates {
		w := q.writers[tok]
		end := w.delayedLen
		if end > windowEnd {
			end = windowEnd
		}
		key := string(w.stream.Data().Bytes(canonicalLen, end))
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, earliestSeq: w.joinSeq}
			groups[key] = g
		}
		if w.joinSeq < g.earliestSeq {
			g.earliestSeq = w.joinSeq
		}
		g.members = append(g.members, tok)
	}

	var best *group
	for _, g := range groups {
		if best == nil ||
			len(g.members) > len(best.members) ||
			(len(g.members) == len(best.members) && g.earliestSeq < best.earliestSeq) {
			best = g
		}
	}
	if best == nil {
		return false
	}
	if len(best.members) < effectiveQuorum {
		// No group agrees on the whole window. With enough candidates for a
		// quorum, publish the prefix every candidate shares; otherwise stall.
		shared := len(best.key)
		for key := range groups {
			n := 0
			for n < shared && n < len(key) && key[n] == best.key[n] {
				n++
			}
			shared = n
		}
		if shared == 0 || len(candidates) < effectiveQuorum {
			return false
		}
		q.merged.AddData([]byte(best.key[:shared]))
		q.merged.AdvanceDelayedData(canonicalLen + shared)
		return true
	}

	advance := -1
	for _, tok := range best.members {
		w := q.writers[tok]
		d := w.delayedLen - canonicalLen
		if d > q.window {
			d = q.window
		}
		if advance == -1 || d < advance {
			advance = d
		}
	}
	if advance <= 0 {
		return false
	}

	repTok := best.members[0]
	repWriter := q.writers[repTok]
	chunk := repWriter.stream.Data().Bytes(canonicalLen, canonicalLen+advance)
	if len(chunk) != advance {
		// representative writer's buffer shrank concurrently (shouldn't
		// happen; DiscontiguousBuf is append-only) — bail defensively.
		return false
	}

	q.merged.AddData(chunk)
	q.merged.AdvanceDelayedData(canonicalLen + advance)
	return true
}
