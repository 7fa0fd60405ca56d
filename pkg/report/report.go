// Package report accumulates recoverable problems seen during a run.
// Large batches can produce thousands of identical warnings, so the report
// keeps a count per kind and only a bounded sample of messages.
package report

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// Kind classifies a recoverable issue
type Kind string

const (
	MissingPlane     Kind = "missing-plane"
	UndecodablePlane Kind = "undecodable-plane"
	BadMetadataField Kind = "bad-metadata-field"
	OutsidePlate     Kind = "outside-plate"
	PreviewFailed    Kind = "preview-failed"
)

// DefaultSampleSize is the number of messages kept per kind
const DefaultSampleSize = 5

// Report is safe for concurrent use. The zero value is not usable; call New.
type Report struct {
	mu      sync.Mutex
	counts  map[Kind]int
	samples map[Kind][]string
	limit   int
	logger  *log.Logger
}

// New creates a report. When logger is non-nil every warning is also
// logged as it happens.
func New(logger *log.Logger) *Report {
	return &Report{
		counts:  make(map[Kind]int),
		samples: make(map[Kind][]string),
		limit:   DefaultSampleSize,
		logger:  logger,
	}
}

// SetSampleSize changes how many messages are retained per kind
func (r *Report) SetSampleSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit = n
}

// Warn records one issue
func (r *Report) Warn(kind Kind, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	r.mu.Lock()
	r.counts[kind]++
	if len(r.samples[kind]) < r.limit {
		r.samples[kind] = append(r.samples[kind], msg)
	}
	logger := r.logger
	r.mu.Unlock()

	if logger != nil {
		logger.Printf("Warning [%s]: %s", kind, msg)
	}
}

// Count returns the number of issues recorded for kind
func (r *Report) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[kind]
}

// Total returns the number of issues of all kinds
func (r *Report) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.counts {
		n += c
	}
	return n
}

// Samples returns the retained messages for kind
func (r *Report) Samples(kind Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.samples[kind]...)
}

// Summary renders counts per kind with their sample messages,
// kinds sorted by name.
func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.counts) == 0 {
		return "no warnings"
	}

	kinds := make([]string, 0, len(r.counts))
	for k := range r.counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var b strings.Builder
	for _, k := range kinds {
		kind := Kind(k)
		fmt.Fprintf(&b, "%s: %d\n", kind, r.counts[kind])
		for _, msg := range r.samples[kind] {
			fmt.Fprintf(&b, "  - %s\n", msg)
		}
		if extra := r.counts[kind] - len(r.samples[kind]); extra > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", extra)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
