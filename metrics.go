package fedcomm

import (
	"sync"
	"time"

	tdigest "github.com/caio/go-tdigest"
)

// LatencyDigest records connect latency, port-negotiation round-trip
// time, and per-route send latency as a t-digest so percentiles can be
// reported cheaply without keeping every sample. It is never read from
// the transmit() hot path itself; the tx loop records into it only
// after a send has completed.
type LatencyDigest struct {
	mu    sync.Mutex
	td    *tdigest.TDigest
	count uint64
}

// NewLatencyDigest allocates a digest with the library's default
// compression factor.
func NewLatencyDigest() *LatencyDigest {
	td, err := tdigest.New(tdigest.Compression(100))
	panicOn(err)
	return &LatencyDigest{td: td}
}

// Record adds one latency observation.
func (l *LatencyDigest) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.td.Add(float64(d.Nanoseconds())); err != nil {
		vv("metrics: tdigest add failed: %v", err)
		return
	}
	l.count++
}

// LatencySnapshot is a point-in-time percentile readout.
type LatencySnapshot struct {
	P50, P90, P99 time.Duration
	Count         uint64
}

// Snapshot returns the current p50/p90/p99.
func (l *LatencyDigest) Snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LatencySnapshot{
		P50:   time.Duration(l.td.Quantile(0.50)),
		P90:   time.Duration(l.td.Quantile(0.90)),
		P99:   time.Duration(l.td.Quantile(0.99)),
		Count: l.count,
	}
}
