package server

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/replayrelay/internal/config"
)

// freePort asks the OS for an ephemeral port by briefly binding to it.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("finding a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:                     freePort(t),
			MetricsPort:              freePort(t),
			WorkerThreads:            2,
			ConnectionAcceptTimeoutS: 1,
		},
		Database: config.DatabaseConfig{Name: ":memory:"},
		Storage:  config.StorageConfig{VaultPath: t.TempDir()},
		Replay: config.ReplayConfig{
			ForcedTimeoutS:                  3600,
			TimeWithZeroWritersToEndReplayS: 30,
			DelayS:                          0,
			UpdateIntervalMs:                5,
			MergeQuorumSize:                 1,
			StreamComparisonDistanceB:       4096,
		},
	}
}

func startTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	s, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(2 * time.Second) })
	return s, cfg
}

func waitForDial(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("could not dial %s: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerAcceptsWriterAndReaderRoundTrip(t *testing.T) {
	_, cfg := startTestServer(t)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)

	writer := waitForDial(t, addr)
	defer writer.Close()
	if _, err := writer.Write([]byte("P/99/match\x00")); err != nil {
		t.Fatalf("writing writer header: %v", err)
	}
	if _, err := writer.Write([]byte("app-header\x00payload-bytes")); err != nil {
		t.Fatalf("writing writer body: %v", err)
	}

	reader := waitForDial(t, addr)
	defer reader.Close()
	if _, err := reader.Write([]byte("G/99/match\x00")); err != nil {
		t.Fatalf("writing reader header: %v", err)
	}

	reader.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(reader)
	hdrBytes, err := br.Peek(len("app-header"))
	if err != nil {
		t.Fatalf("reading app header from reader connection: %v", err)
	}
	if hdr := string(hdrBytes); hdr != "app-header" {
		t.Fatalf("unexpected app header: %q", hdr)
	}
}

func TestServerRejectsConnectionWithBadHeader(t *testing.T) {
	_, cfg := startTestServer(t)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)

	conn := waitForDial(t, addr)
	defer conn.Close()
	if _, err := conn.Write([]byte("not-a-valid-header-no-terminator")); err != nil {
		t.Fatalf("writing malformed header: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after malformed header")
	}
}

func TestServerMetricsListenerAcceptsConnections(t *testing.T) {
	_, cfg := startTestServer(t)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MetricsPort)

	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			lastErr = err
			time.Sleep(10 * time.Millisecond)
			continue
		}
		conn.Close()
		lastErr = nil
		break
	}
	if lastErr != nil {
		t.Fatalf("metrics server never came up: %v", lastErr)
	}
}

func TestServerShutdownDrainsCleanly(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	conn := waitForDial(t, addr)
	if _, err := conn.Write([]byte("P/1/m\x00")); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	defer conn.Close()

	s.Shutdown(2 * time.Second)

	if _, err := net.Dial("tcp", addr); err == nil {
		t.Fatal("expected listener to be closed after shutdown")
	}
}
