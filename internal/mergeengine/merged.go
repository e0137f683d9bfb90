package mergeengine

import (
	"sync"

	"github.com/adred-codev/replayrelay/internal/event"
	"github.com/adred-codev/replayrelay/internal/ringbuffer"
)

// MergedReplay is spec §3's one-per-Replay canonical stream, owned by the
// Merger (which mutates it through the merge strategy) and shared
// read-only with the Sender. Mutation is serialized by the merge strategy's
// lock, but Sender instances read fields concurrently, hence the mutex.
type MergedReplay struct {
	mu             sync.RWMutex
	header         []byte
	data           *ringbuffer.DiscontiguousBuf
	delayedDataLen int
	finished       bool
	delayed        *event.Notifier
}

// NewMergedReplay allocates an empty merged replay.
func NewMergedReplay() *MergedReplay {
	return &MergedReplay{
		data:    ringbuffer.New(),
		delayed: event.New(),
	}
}

// DelayedProgress returns the wait channel for delayed_progress_event.
func (m *MergedReplay) DelayedProgress() <-chan struct{} {
	return m.delayed.Wait()
}

// AddHeader installs the header exactly once. Per invariant it must precede
// any data append; callers (the quorum strategy) are responsible for that
// ordering.
func (m *MergedReplay) AddHeader(h []byte) {
	m.mu.Lock()
	if m.header != nil {
		m.mu.Unlock()
		return
	}
	m.header = h
	m.mu.Unlock()
	m.delayed.Notify()
}

// Header returns the installed header, or nil.
func (m *MergedReplay) Header() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.header
}

// AddData appends bytes to the canonical merged stream. Callers must have
// already installed the header.
func (m *MergedReplay) AddData(b []byte) {
	m.mu.Lock()
	m.data.Append(b)
	m.mu.Unlock()
}

// Data exposes the underlying buffer for Sender reads and the saver.
func (m *MergedReplay) Data() *ringbuffer.DiscontiguousBuf {
	return m.data
}

// AdvanceDelayedData moves the reader-visible prefix forward and wakes
// waiters. newLen must be monotonically non-decreasing and ≤ data.Len().
func (m *MergedReplay) AdvanceDelayedData(newLen int) {
	m.mu.Lock()
	if newLen > m.delayedDataLen {
		m.delayedDataLen = newLen
	}
	m.mu.Unlock()
	m.delayed.Notify()
}

// DelayedDataLen returns the current reader-visible prefix length.
func (m *MergedReplay) DelayedDataLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delayedDataLen
}

// SetFinished freezes the replay: no further mutation is permitted after
// this call, per invariant.
func (m *MergedReplay) SetFinished() {
	m.mu.Lock()
	m.finished = true
	m.mu.Unlock()
	m.delayed.Notify()
}

// Finished reports whether the replay has been finalized.
func (m *MergedReplay) Finished() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finished
}
