package policy

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewMetrics(registry, "nexlayer")
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.incRetry()
	m.incRetry()
	m.incPendingEnqueued()
	m.incPendingReplayed()
	m.incConflict("resolved")
	m.incConflict("unresolved")
	m.setPendingDepth(3)

	if got := testutil.ToFloat64(m.networkRetries); got != 2 {
		t.Fatalf("network_retries_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pendingGauge); got != 3 {
		t.Fatalf("pending_changes = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.conflictsTotal.WithLabelValues("resolved")); got != 1 {
		t.Fatalf("conflicts_total{resolved} = %v, want 1", got)
	}

	// Double registration must fail, not silently duplicate.
	if _, err := NewMetrics(registry, "nexlayer"); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.incRetry()
	m.incPendingEnqueued()
	m.incPendingReplayed()
	m.incConflict("resolved")
	m.setPendingDepth(1)
}

func TestNewMetricsRequiresRegistry(t *testing.T) {
	if _, err := NewMetrics(nil, "x"); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := NewJSONCodec[note, string]()

	raw, err := codec.EncodeRecord(note{ID: "a", Body: "x"})
	if err != nil {
		t.Fatal(err)
	}
	n, err := codec.DecodeRecord(raw)
	if err != nil || n.ID != "a" || n.Body != "x" {
		t.Fatalf("decoded %+v, %v", n, err)
	}

	rawID, err := codec.EncodeID("a")
	if err != nil {
		t.Fatal(err)
	}
	id, err := codec.DecodeID(rawID)
	if err != nil || id != "a" {
		t.Fatalf("decoded id %q, %v", id, err)
	}

	if codec.KeyString("a") != "a" {
		t.Fatalf("KeyString = %q", codec.KeyString("a"))
	}
	if _, err := codec.DecodeRecord([]byte("{")); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}
