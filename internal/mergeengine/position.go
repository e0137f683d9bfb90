// Package mergeengine implements spec §4.3-§4.7: the per-writer stream
// state, the delayed merged replay, the delay tracker, the quorum merge
// strategy, and the Merger/Sender that drive them. Each Replay's instances
// are used from several goroutines (writer pumps, the lifecycle task,
// Senders); WriterStream, MergedReplay and QuorumStrategy guard their state
// with mutexes for that reason.
package mergeengine

import "fmt"

// PositionKind enumerates the monotone stages a WriterStream or the merged
// replay's delayed cursor can be in (spec §3).
type PositionKind int

const (
	PosStart PositionKind = iota
	PosHeader
	PosData
	PosFinished
)

// StreamPosition is `{START, HEADER, DATA(len), FINISHED(len)}` from spec
// §3. Len is meaningful only for PosData and PosFinished.
type StreamPosition struct {
	Kind PositionKind
	Len  int
}

func (p StreamPosition) String() string {
	switch p.Kind {
	case PosStart:
		return "START"
	case PosHeader:
		return "HEADER"
	case PosData:
		return fmt.Sprintf("DATA(%d)", p.Len)
	case PosFinished:
		return fmt.Sprintf("FINISHED(%d)", p.Len)
	default:
		return "UNKNOWN"
	}
}

// Less reports whether p precedes q in the monotone ordering
// START < HEADER < DATA(n) < DATA(m>n) < FINISHED. Positions of different
// kinds compare by kind alone, so any DATA precedes any FINISHED whatever
// their lengths; Len is compared only between positions of the same kind.
func (p StreamPosition) Less(q StreamPosition) bool {
	if p.Kind != q.Kind {
		return p.Kind < q.Kind
	}
	return p.Len < q.Len
}
