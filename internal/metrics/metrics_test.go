package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementVerification("verified")
	m.IncrementVerification("verified")
	m.IncrementVerification("UnknownIssuer")
	m.ObserveCacheReap("success", 3, 0.01)

	if got := testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("verified")); got != 2 {
		t.Errorf("expected 2 verified, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheReapEvictedTotal); got != 3 {
		t.Errorf("expected 3 evicted, got %v", got)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	// nil でもパニックしない
	m.IncrementVerification("verified")
	m.AddWarnings(1)
	m.IncrementKeySetCache("hit")
	m.ObserveKeySetFetch("success", 0.1)
	m.IncrementStaleKeysServed()
	m.ObserveCacheReap("success", 1, 0.1)
}
