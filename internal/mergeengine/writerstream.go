package mergeengine

import (
	"bufio"
	"io"
	"sync"

	"github.com/adred-codev/replayrelay/internal/event"
	"github.com/adred-codev/replayrelay/internal/ringbuffer"
	"github.com/adred-codev/replayrelay/internal/wire"
)

// readScratchSize is the buffer read_body uses per socket read.
const readScratchSize = 32 * 1024

// WriterStream is spec §4.3/§3: the per-writer-connection state shared
// between a Merger and the merge strategy. It is written from exactly one
// goroutine at a time (the connection's own read loop) but read
// concurrently by the strategy and the delay tracker, so its accessors take
// a mutex. This is the Go-idiomatic stand-in for the spec's single-executor
// ownership discipline.
type WriterStream struct {
	mu       sync.RWMutex
	header   []byte
	data     *ringbuffer.DiscontiguousBuf
	position StreamPosition
	progress *event.Notifier
	body     *bufio.Reader
}

// NewWriterStream allocates an empty stream at position START.
func NewWriterStream() *WriterStream {
	return &WriterStream{
		data:     ringbuffer.New(),
		position: StreamPosition{Kind: PosStart},
		progress: event.New(),
	}
}

// Progress returns the wait channel for the stream's progress event.
func (w *WriterStream) Progress() <-chan struct{} {
	return w.progress.Wait()
}

// Position returns the current position under lock.
func (w *WriterStream) Position() StreamPosition {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.position
}

// Header returns the immutable header, or nil if not yet set.
func (w *WriterStream) Header() []byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.header
}

// Data exposes the underlying buffer for read-only access by the strategy
// (comparison windows) and the saver path. Safe because DiscontiguousBuf
// chunks never move once allocated (spec §4.1).
func (w *WriterStream) Data() *ringbuffer.DiscontiguousBuf {
	return w.data
}

// ReadHeader implements spec §4.3. The wire.Connection has already consumed
// the §6 connection header (`<kind>/<match_id>/<name>\0`); the bytes that
// follow on a writer connection are the replay's own application header,
// itself NUL-terminated, then raw body bytes. ReadHeader reads that second
// terminator, installs the header, advances to HEADER, and fires progress.
// A malformed or prematurely-closed header transitions straight to
// FINISHED(0) rather than propagating an error — per spec, writer framing
// failures are legitimate input, not faults.
func (w *WriterStream) ReadHeader(conn *wire.Connection) {
	w.body = bufio.NewReader(conn.Reader())

	raw, err := readUntilNUL(w.body)
	if err != nil {
		w.finish(0)
		return
	}

	w.mu.Lock()
	w.header = raw
	w.position = StreamPosition{Kind: PosHeader}
	w.mu.Unlock()
	w.progress.Notify()
}

// readUntilNUL scans r for the application-header terminator.
func readUntilNUL(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return buf, nil
		}
		buf = append(buf, b)
	}
}

// ReadBody implements spec §4.3: repeatedly read into a scratch buffer and
// append; advance position to DATA(len) after each read. EOF or any I/O
// error transitions to FINISHED(current_len); errors are swallowed, since a
// truncated writer is legitimate input the merge engine reconciles. Must be
// called after ReadHeader has reached HEADER, since it continues on the
// same buffered reader.
func (w *WriterStream) ReadBody() {
	if w.body == nil {
		w.finish(0)
		return
	}
	scratch := make([]byte, readScratchSize)
	for {
		n, err := w.body.Read(scratch)
		if n > 0 {
			w.mu.Lock()
			w.data.Append(scratch[:n])
			length := w.data.Len()
			w.position = StreamPosition{Kind: PosData, Len: length}
			w.mu.Unlock()
			w.progress.Notify()
		}
		if err != nil {
			// EOF and I/O errors are both swallowed here per §4.3: a
			// truncated writer is legitimate input, not a fault.
			w.finish(w.data.Len())
			return
		}
	}
}

func (w *WriterStream) finish(length int) {
	w.mu.Lock()
	w.position = StreamPosition{Kind: PosFinished, Len: length}
	w.mu.Unlock()
	w.progress.Notify()
}

// Finished reports whether the stream has reached FINISHED.
func (w *WriterStream) Finished() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.position.Kind == PosFinished
}
