// Package ringbuffer implements the append-only chunked byte log that
// backs every WriterStream and MergedReplay (spec §4.1).
//
// Not safe for concurrent use — callers on a different goroutine than the
// owner must synchronize externally, matching §5's single-executor-owns-
// all-state model.
package ringbuffer

// chunkSize is the fixed allocation unit. Chosen to keep individual
// allocations modest while amortizing append overhead; not exposed because
// callers only ever deal in byte offsets.
const chunkSize = 64 * 1024

// DiscontiguousBuf is an append-only buffer composed of fixed-size chunks.
// Chunks never move once allocated, so offsets handed out by Len stay valid
// across future Appends — a reader can hold an offset far behind the writer
// without the buffer needing to retain a contiguous backing array.
type DiscontiguousBuf struct {
	chunks [][]byte // each chunk has len == cap == chunkSize except the last
	length int
}

// New returns an empty DiscontiguousBuf.
func New() *DiscontiguousBuf {
	return &DiscontiguousBuf{}
}

// Len returns the total number of bytes appended so far.
func (d *DiscontiguousBuf) Len() int {
	return d.length
}

// Append copies data into the tail chunk(s), allocating new chunks as
// needed. Returns the offset at which the data was written.
func (d *DiscontiguousBuf) Append(data []byte) int {
	offset := d.length
	for len(data) > 0 {
		if len(d.chunks) == 0 || len(d.chunks[len(d.chunks)-1]) == chunkSize {
			d.chunks = append(d.chunks, make([]byte, 0, chunkSize))
		}
		tail := &d.chunks[len(d.chunks)-1]
		room := chunkSize - len(*tail)
		n := len(data)
		if n > room {
			n = room
		}
		*tail = append(*tail, data[:n]...)
		data = data[n:]
		d.length += n
	}
	return offset
}

// ReadAt copies up to len(dst) bytes starting at off into dst, returning the
// number of bytes copied. Returns 0 iff off >= Len().
func (d *DiscontiguousBuf) ReadAt(off int, dst []byte) int {
	if off < 0 || off >= d.length || len(dst) == 0 {
		return 0
	}
	copied := 0
	chunkIdx := off / chunkSize
	within := off % chunkSize
	for chunkIdx < len(d.chunks) && copied < len(dst) {
		chunk := d.chunks[chunkIdx]
		if within >= len(chunk) {
			break
		}
		n := copy(dst[copied:], chunk[within:])
		copied += n
		chunkIdx++
		within = 0
	}
	return copied
}

// IterChunks invokes fn with successive contiguous slices covering [from,
// to) in order, stopping early if fn returns false. Iteration stops
// entirely when the requested range runs past Len().
func (d *DiscontiguousBuf) IterChunks(from, to int, fn func([]byte) bool) {
	if to > d.length {
		to = d.length
	}
	if from < 0 || from >= to {
		return
	}
	chunkIdx := from / chunkSize
	within := from % chunkSize
	remaining := to - from
	for remaining > 0 && chunkIdx < len(d.chunks) {
		chunk := d.chunks[chunkIdx]
		end := within + remaining
		if end > len(chunk) {
			end = len(chunk)
		}
		slice := chunk[within:end]
		if len(slice) == 0 {
			break
		}
		if !fn(slice) {
			return
		}
		remaining -= len(slice)
		chunkIdx++
		within = 0
	}
}

// Bytes materializes [from, to) as a single contiguous slice. Intended for
// callers (the quorum comparison window, the saver) that need a flat view;
// avoid on hot paths over large ranges.
func (d *DiscontiguousBuf) Bytes(from, to int) []byte {
	if to > d.length {
		to = d.length
	}
	if from < 0 || from >= to {
		return nil
	}
	out := make([]byte, 0, to-from)
	d.IterChunks(from, to, func(b []byte) bool {
		out = append(out, b...)
		return true
	})
	return out
}
