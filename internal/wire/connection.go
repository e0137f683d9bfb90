// Package wire implements the §6 external interface: the NUL-terminated
// ASCII header framing and the typed Connection it produces. Everything
// upstream of a Connection's header (accepting the raw TCP socket) is out of
// scope per spec §1 — this package starts at "socket already accepted".
package wire

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the single byte that opens a §6 header.
type Kind byte

const (
	KindWriter Kind = 'P'
	KindReader Kind = 'G'
)

func (k Kind) String() string {
	switch k {
	case KindWriter:
		return "writer"
	case KindReader:
		return "reader"
	default:
		return "unknown"
	}
}

// maxHeaderLen bounds the ASCII preamble per spec §6.
const maxHeaderLen = 1024

// Header is the parsed `<kind>/<match_id>/<name>\0` preamble.
type Header struct {
	Kind    Kind
	MatchID uint32
	Name    string
}

// Connection is an abstract duplex byte stream with an already-parsed
// header, owned by whichever component is currently servicing it. ID is a
// short opaque correlation id (recovered from original_source/, see
// SPEC_FULL.md §C) threaded through log lines for that connection's entire
// lifetime.
type Connection struct {
	ID     string
	Header Header
	conn   net.Conn
	r      *bufio.Reader
}

// Accept reads and parses the §6 header from conn, bounded by deadline. On
// malformed framing, a header exceeding maxHeaderLen, or EOF before the
// terminator, it closes conn and returns an error — the caller never gets a
// partially-valid Connection.
func Accept(ctx context.Context, conn net.Conn, deadline time.Duration) (*Connection, error) {
	if d, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(d)
	} else {
		conn.SetReadDeadline(time.Now().Add(deadline))
	}

	r := bufio.NewReader(conn)
	raw, err := readHeaderBytes(r)
	if err != nil {
		conn.Close()
		return nil, err
	}

	hdr, err := parseHeader(raw)
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetReadDeadline(time.Time{})
	return &Connection{
		ID:     uuid.NewString(),
		Header: hdr,
		conn:   conn,
		r:      r,
	}, nil
}

// readHeaderBytes reads up to the NUL terminator, enforcing maxHeaderLen.
func readHeaderBytes(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: connection closed before header terminator", ErrNoData)
			}
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		if b == 0 {
			return buf, nil
		}
		buf = append(buf, b)
		if len(buf) > maxHeaderLen {
			return nil, fmt.Errorf("%w: header exceeds %d bytes", ErrBadData, maxHeaderLen)
		}
	}
}

// parseHeader parses "<kind>/<match_id>/<name>" (terminator already
// stripped) per spec §6.
func parseHeader(raw []byte) (Header, error) {
	s := string(raw)
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return Header{}, fmt.Errorf("%w: malformed header %q", ErrBadData, s)
	}

	var kind Kind
	switch parts[0] {
	case "P":
		kind = KindWriter
	case "G":
		kind = KindReader
	default:
		return Header{}, fmt.Errorf("%w: unknown kind %q", ErrBadData, parts[0])
	}

	matchID, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Header{}, fmt.Errorf("%w: bad match_id %q", ErrBadData, parts[1])
	}

	name := parts[2]
	if strings.ContainsAny(name, "/\x00") {
		return Header{}, fmt.Errorf("%w: name contains forbidden byte", ErrBadData)
	}

	return Header{Kind: kind, MatchID: uint32(matchID), Name: name}, nil
}

// Reader returns the buffered reader positioned right after the header,
// ready to stream body bytes (writers) or nothing further (readers).
func (c *Connection) Reader() io.Reader { return c.r }

// Writer returns the underlying connection for writes (readers only — the
// server never writes to a writer connection per spec §6).
func (c *Connection) Writer() io.Writer { return c.conn }

// SetDeadline proxies to the underlying net.Conn, used by callers composing
// suspension points with cancellation tokens (spec §5).
func (c *Connection) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// Close closes the underlying connection. Safe to call multiple times.
func (c *Connection) Close() error { return c.conn.Close() }
