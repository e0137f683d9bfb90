package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	r := NewRegistry()
	r.ConnectionsAccepted.WithLabelValues("writer").Inc()
	r.SetReplayStateCounts(map[string]int{"ACCEPTING": 2, "TERMINATED": 5})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "replayrelay_connections_accepted_total") {
		t.Fatalf("expected connections_accepted_total in output, got:\n%s", body)
	}
	if !strings.Contains(body, `replayrelay_replay_state{state="ACCEPTING"} 2`) {
		t.Fatalf("expected replay_state ACCEPTING=2 in output, got:\n%s", body)
	}
}

func TestNewRegistryTwiceDoesNotPanic(t *testing.T) {
	// Each Registry owns its own prometheus.Registry, so building a second
	// one (e.g. in a second test in this package) must not trigger a
	// duplicate-collector-registration panic against a shared default.
	_ = NewRegistry()
	_ = NewRegistry()
}
