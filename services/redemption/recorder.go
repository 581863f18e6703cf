package redemption

import (
	"context"
	"sync"
	"time"

	"merchant-voucher/services/outcome"

	"github.com/prometheus/client_golang/prometheus"
)

var outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "voucher_use_outcomes_total",
	Help: "Voucher use validations by status and rejection reason.",
}, []string{"status", "reason"})

// Collectors returns the metrics owned by this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{outcomesTotal}
}

// UseRecord is emitted for every use the engine evaluates.
type UseRecord struct {
	Request UseRequest      `json:"request"`
	At      time.Time       `json:"at"`
	Outcome outcome.Outcome `json:"outcome"`
}

type Recorder interface {
	Record(ctx context.Context, rec UseRecord)
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, UseRecord) {}

// MemoryRecorder keeps the most recent records in a bounded ring.
type MemoryRecorder struct {
	mu      sync.Mutex
	size    int
	records []UseRecord
}

func NewMemoryRecorder(size int) *MemoryRecorder {
	if size <= 0 {
		size = 256
	}
	return &MemoryRecorder{size: size}
}

func (r *MemoryRecorder) Record(_ context.Context, rec UseRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if len(r.records) > r.size {
		r.records = r.records[len(r.records)-r.size:]
	}
}

// Records returns a copy, oldest first.
func (r *MemoryRecorder) Records() []UseRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UseRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *MemoryRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
