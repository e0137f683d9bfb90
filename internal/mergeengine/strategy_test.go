package mergeengine

import "testing"

// writerFixture builds a WriterStream already past HEADER with the given
// body bytes appended and marked FINISHED, bypassing real connections so
// strategy tests can focus purely on merge semantics.
func writerFixture(header string, body []byte) *WriterStream {
	ws := NewWriterStream()
	ws.mu.Lock()
	ws.header = []byte(header)
	ws.position = StreamPosition{Kind: PosHeader}
	ws.mu.Unlock()
	if len(body) > 0 {
		ws.data.Append(body)
	}
	ws.mu.Lock()
	ws.position = StreamPosition{Kind: PosFinished, Len: len(body)}
	ws.mu.Unlock()
	return ws
}

func TestQuorumStrategySingleWriterIsQuorum(t *testing.T) {
	s := NewQuorumStrategy(2, 4096)
	w := writerFixture("hdr", []byte("abcdef"))
	tok := s.ReplayAdded(w)
	s.ReplayHeaderAdded(tok)

	s.ReplayNewDelayedData(tok, DelayedSample{HasHeader: true, Len: 6, Finished: true})

	if got := s.MergedReplay().DelayedDataLen(); got != 6 {
		t.Fatalf("expected lone writer to be treated as quorum, delayed len = %d", got)
	}
	if string(s.MergedReplay().Header()) != "hdr" {
		t.Fatalf("expected header installed, got %q", s.MergedReplay().Header())
	}
}

func TestQuorumStrategyTwoWritersAgreeingAdvance(t *testing.T) {
	s := NewQuorumStrategy(2, 4096)
	a := writerFixture("hdr", []byte("0123456789"))
	b := writerFixture("hdr", []byte("0123456789"))

	tokA := s.ReplayAdded(a)
	tokB := s.ReplayAdded(b)
	s.ReplayHeaderAdded(tokA)
	s.ReplayHeaderAdded(tokB)

	s.ReplayNewDelayedData(tokA, DelayedSample{HasHeader: true, Len: 10})
	s.ReplayNewDelayedData(tokB, DelayedSample{HasHeader: true, Len: 10})

	if got := s.MergedReplay().DelayedDataLen(); got != 10 {
		t.Fatalf("expected both writers agreeing to advance fully, got %d", got)
	}
}

func TestQuorumStrategyDisagreementBlocksTrailingBytes(t *testing.T) {
	// A scaled-down two-writer divergence: a 10-byte shared prefix, then A
	// and B diverge by 1 byte each. W covers the whole divergent window, so
	// the shared prefix is published and the disagreeing tail must never
	// surface.
	shared := make([]byte, 10)
	for i := range shared {
		shared[i] = 'a'
	}
	aTail := append(append([]byte{}, shared...), 'x')
	bTail := append(append([]byte{}, shared...), 'y')

	s := NewQuorumStrategy(2, 4096)
	a := writerFixture("hdr", aTail)
	b := writerFixture("hdr", bTail)

	tokA := s.ReplayAdded(a)
	tokB := s.ReplayAdded(b)
	s.ReplayHeaderAdded(tokA)
	s.ReplayHeaderAdded(tokB)

	s.ReplayNewDelayedData(tokA, DelayedSample{HasHeader: true, Len: len(aTail), Finished: true})
	s.ReplayNewDelayedData(tokB, DelayedSample{HasHeader: true, Len: len(bTail), Finished: true})

	got := s.MergedReplay().DelayedDataLen()
	if got != len(shared) {
		t.Fatalf("expected merge to stall at shared prefix %d, advanced to %d", len(shared), got)
	}
}

func TestQuorumStrategyFirstHeaderWins(t *testing.T) {
	s := NewQuorumStrategy(2, 4096)
	a := writerFixture("first", nil)
	b := writerFixture("second", nil)

	tokA := s.ReplayAdded(a)
	tokB := s.ReplayAdded(b)
	s.ReplayHeaderAdded(tokA)
	s.ReplayHeaderAdded(tokB)

	if string(s.MergedReplay().Header()) != "first" {
		t.Fatalf("expected first-observed header to win, got %q", s.MergedReplay().Header())
	}
}

func TestQuorumStrategyFinalizeFreezesReplay(t *testing.T) {
	s := NewQuorumStrategy(2, 4096)
	w := writerFixture("hdr", []byte("abc"))
	tok := s.ReplayAdded(w)
	s.ReplayHeaderAdded(tok)
	s.ReplayNewDelayedData(tok, DelayedSample{HasHeader: true, Len: 2})

	s.Finalize()

	if !s.MergedReplay().Finished() {
		t.Fatal("expected Finalize to mark the merged replay finished")
	}
	if got := s.MergedReplay().DelayedDataLen(); got != s.MergedReplay().Data().Len() {
		t.Fatalf("expected Finalize to force delayed_data_len to data.Len(), got %d vs %d", got, s.MergedReplay().Data().Len())
	}
}
