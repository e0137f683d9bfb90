package wire

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func pipeConn(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	return client, server
}

func TestAcceptParsesWriterHeader(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()

	go func() {
		client.Write([]byte("P/2/foo\x00bulk-bytes"))
	}()

	conn, err := Accept(context.Background(), server, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	if conn.Header.Kind != KindWriter {
		t.Fatalf("expected writer kind, got %v", conn.Header.Kind)
	}
	if conn.Header.MatchID != 2 {
		t.Fatalf("expected match id 2, got %d", conn.Header.MatchID)
	}
	if conn.Header.Name != "foo" {
		t.Fatalf("expected name foo, got %q", conn.Header.Name)
	}

	rest := make([]byte, len("bulk-bytes"))
	if _, err := io.ReadFull(conn.Reader(), rest); err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !bytes.Equal(rest, []byte("bulk-bytes")) {
		t.Fatalf("body mismatch: %q", rest)
	}
}

func TestAcceptParsesReaderHeader(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()

	go client.Write([]byte("G/2/foo\x00"))

	conn, err := Accept(context.Background(), server, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	if conn.Header.Kind != KindReader {
		t.Fatalf("expected reader kind, got %v", conn.Header.Kind)
	}
}

func TestAcceptRejectsMalformedHeader(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()

	go client.Write([]byte("X/2/foo\x00"))

	_, err := Accept(context.Background(), server, time.Second)
	if !errors.Is(err, ErrBadData) {
		t.Fatalf("expected ErrBadData, got %v", err)
	}
}

func TestAcceptRejectsOversizeHeader(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()

	go func() {
		client.Write(bytes.Repeat([]byte("a"), maxHeaderLen+1))
		client.Write([]byte{0})
	}()

	_, err := Accept(context.Background(), server, time.Second)
	if !errors.Is(err, ErrBadData) {
		t.Fatalf("expected ErrBadData for oversize header, got %v", err)
	}
}

func TestAcceptRejectsNameWithSlash(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()

	go client.Write([]byte("P/2/fo/o\x00"))

	_, err := Accept(context.Background(), server, time.Second)
	if !errors.Is(err, ErrBadData) {
		t.Fatalf("expected ErrBadData, got %v", err)
	}
}

func TestAcceptReturnsNoDataOnEmptyClose(t *testing.T) {
	client, server := pipeConn(t)
	client.Close()

	_, err := Accept(context.Background(), server, time.Second)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}
