package mergeengine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/adred-codev/replayrelay/internal/wire"
)

// acceptedWriterConn pipes a "P/1/foo\0"+payload handshake through
// wire.Accept and closes the client side once the full payload has been
// drained by the reader, so a subsequent WriterStream.ReadBody observes a
// clean EOF rather than blocking forever on net.Pipe's synchronous rendezvous.
func acceptedWriterConn(t *testing.T, payload string) *wire.Connection {
	t.Helper()
	client, server := net.Pipe()

	go func() {
		client.Write([]byte("P/1/foo\x00" + payload))
		client.Close()
	}()

	conn, err := wire.Accept(context.Background(), server, time.Second)
	if err != nil {
		t.Fatalf("wire.Accept failed: %v", err)
	}
	return conn
}

func TestWriterStreamReadHeaderAndBody(t *testing.T) {
	conn := acceptedWriterConn(t, "app-header\x00hello world")
	defer conn.Close()

	ws := NewWriterStream()
	ws.ReadHeader(conn)

	if ws.Position().Kind != PosHeader {
		t.Fatalf("expected HEADER position, got %v", ws.Position())
	}
	if string(ws.Header()) != "app-header" {
		t.Fatalf("unexpected header: %q", ws.Header())
	}

	ws.ReadBody()

	if ws.Position().Kind != PosFinished {
		t.Fatalf("expected FINISHED position after EOF, got %v", ws.Position())
	}
	if ws.Position().Len != len("hello world") {
		t.Fatalf("expected finished len %d, got %d", len("hello world"), ws.Position().Len)
	}

	got := make([]byte, ws.Data().Len())
	ws.Data().ReadAt(0, got)
	if string(got) != "hello world" {
		t.Fatalf("unexpected body bytes: %q", got)
	}
}

func TestWriterStreamMalformedHeaderFinishesImmediately(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go client.Write([]byte("P/1/foo\x00"))
	conn, err := wire.Accept(context.Background(), server, time.Second)
	if err != nil {
		t.Fatalf("wire.Accept failed: %v", err)
	}
	defer conn.Close()
	client.Close()

	ws := NewWriterStream()
	ws.ReadHeader(conn)

	if !ws.Finished() {
		t.Fatalf("expected FINISHED on premature close, got %v", ws.Position())
	}
	if ws.Position().Len != 0 {
		t.Fatalf("expected FINISHED(0), got %v", ws.Position())
	}
}

func TestWriterStreamProgressFiresOnAppend(t *testing.T) {
	conn := acceptedWriterConn(t, "h\x00abc")
	defer conn.Close()

	ws := NewWriterStream()
	ws.ReadHeader(conn)

	progress := ws.Progress()
	done := make(chan struct{})
	go func() {
		ws.ReadBody()
		close(done)
	}()

	select {
	case <-progress:
	case <-time.After(time.Second):
		t.Fatal("progress event never fired for body append")
	}
	<-done
}
