package storage

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"mailbench/models"
)

// Recorder keeps the latency samples of every approach in memory
type Recorder struct {
	mu      sync.RWMutex
	samples map[models.Approach][]int64

	ingested *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewRecorder creates an empty recorder. When reg is not nil, every recorded
// sample is also exported as a Prometheus counter and histogram.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		samples: make(map[models.Approach][]int64),
	}
	if reg == nil {
		return r
	}

	r.ingested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailbench_ingested_total",
		Help: "Total number of emails ingested per approach.",
	}, []string{"approach"})

	// Buckets run from 10ms to 5 minutes; SES to S3 to SNS hops are
	// usually in the hundreds of milliseconds.
	r.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "mailbench_e2e_latency_seconds",
		Help: "Latency from SES send time to receipt by the webhook.",
		Buckets: []float64{
			.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300,
		},
	}, []string{"approach"})

	reg.MustRegister(r.ingested, r.latency)
	return r
}

// Record appends a latency sample for the given approach
func (r *Recorder) Record(approach models.Approach, latencyMs int64) {
	r.mu.Lock()
	r.samples[approach] = append(r.samples[approach], latencyMs)
	r.mu.Unlock()

	if r.ingested != nil {
		r.ingested.WithLabelValues(string(approach)).Inc()
		r.latency.WithLabelValues(string(approach)).Observe((time.Duration(latencyMs) * time.Millisecond).Seconds())
	}
}

// Stats returns the summary of a single approach
func (r *Recorder) Stats(approach models.Approach) models.ApproachStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return summarize(r.samples[approach])
}

// Snapshot returns the summary of every known approach. Approaches without
// samples are reported with a zero count.
func (r *Recorder) Snapshot() models.MetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(models.MetricsSnapshot, len(models.Approaches))
	for _, approach := range models.Approaches {
		snapshot[approach] = summarize(r.samples[approach])
	}
	for approach, samples := range r.samples {
		if _, ok := snapshot[approach]; !ok {
			snapshot[approach] = summarize(samples)
		}
	}

	return snapshot
}

// Count returns the number of samples recorded for approach
func (r *Recorder) Count(approach models.Approach) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.samples[approach])
}

// summarize computes the mean from scratch over samples and copies them out.
// Callers must hold the read lock.
func summarize(samples []int64) models.ApproachStats {
	stats := models.ApproachStats{
		Count:   len(samples),
		Samples: make([]int64, len(samples)),
	}
	copy(stats.Samples, samples)

	if len(samples) == 0 {
		return stats
	}

	var sum int64
	for _, s := range samples {
		sum += s
	}
	stats.Mean = float64(sum) / float64(len(samples))

	return stats
}
