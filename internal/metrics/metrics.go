// SPDX-License-Identifier: Apache-2.0

// Package metrics is the Timing/Metrics component: per-operation call
// counts and latency aggregates for the core operations the backup and
// purge engines perform. It is purely observational — its absence must
// never change backup semantics, so nothing here returns an error that
// could abort a run.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/montanaflynn/stats"
)

// Recorder aggregates per-operation timing samples for a single run.
type Recorder struct {
	mu      sync.Mutex
	samples map[string][]time.Duration
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{samples: make(map[string][]time.Duration)}
}

// Observe times a single invocation of op and returns a stop function the
// caller defers:
//
//	stop := rec.Observe("s3.download")
//	defer stop()
func (r *Recorder) Observe(op string) func() {
	start := time.Now()
	return func() {
		r.record(op, time.Since(start))
	}
}

func (r *Recorder) record(op string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[op] = append(r.samples[op], d)
}

// Summary holds the aggregated stats for one operation.
type Summary struct {
	Op     string
	Count  int
	Total  time.Duration
	Mean   time.Duration
	Median time.Duration
}

// Summaries returns one Summary per observed operation, sorted by
// descending total time so the heaviest contributors are reported first.
func (r *Recorder) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, 0, len(r.samples))
	for op, durations := range r.samples {
		out = append(out, summarize(op, durations))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

func summarize(op string, durations []time.Duration) Summary {
	floats := make([]float64, len(durations))
	var total time.Duration
	for i, d := range durations {
		floats[i] = float64(d)
		total += d
	}

	mean, err := stats.Mean(floats)
	if err != nil {
		mean = 0
	}
	median, err := stats.Median(floats)
	if err != nil {
		median = 0
	}

	return Summary{
		Op:     op,
		Count:  len(durations),
		Total:  total,
		Mean:   time.Duration(mean),
		Median: time.Duration(median),
	}
}

// Report logs one summary line per operation via apex/log, the way the
// backup and purge drivers announce their own completion.
func (r *Recorder) Report() {
	for _, sum := range r.Summaries() {
		log.WithFields(log.Fields{
			"count":  sum.Count,
			"total":  sum.Total,
			"mean":   sum.Mean,
			"median": sum.Median,
		}).Infof("metrics: %s", sum.Op)
	}
}
