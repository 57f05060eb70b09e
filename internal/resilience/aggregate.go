package resilience

import (
	"fmt"
	"sync"
	"time"
)

// Aggregator keeps a bounded ring of recent enhanced errors and tallies
// them by category and severity for reporting.
type Aggregator struct {
	mu        sync.Mutex
	maxErrors int
	ring      []*Error
	next      int
	total     int
}

func NewAggregator(maxErrors int) *Aggregator {
	if maxErrors <= 0 {
		maxErrors = 100
	}
	return &Aggregator{maxErrors: maxErrors, ring: make([]*Error, 0, maxErrors)}
}

// Record stores the error, evicting the oldest entry once full.
func (a *Aggregator) Record(err *Error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	if len(a.ring) < a.maxErrors {
		a.ring = append(a.ring, err)
		return
	}
	a.ring[a.next] = err
	a.next = (a.next + 1) % a.maxErrors
}

// Recent returns the retained errors, oldest first.
func (a *Aggregator) Recent() []*Error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Error, 0, len(a.ring))
	out = append(out, a.ring[a.next:]...)
	out = append(out, a.ring[:a.next]...)
	return out
}

// Report summarizes the retained errors and suggests remediations when
// thresholds cross.
type Report struct {
	Total           int              `json:"total"`
	Retained        int              `json:"retained"`
	ByCategory      map[Category]int `json:"by_category"`
	BySeverity      map[Severity]int `json:"by_severity"`
	Recommendations []string         `json:"recommendations,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

func (a *Aggregator) GenerateReport() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	rep := Report{
		Total:       a.total,
		Retained:    len(a.ring),
		ByCategory:  make(map[Category]int),
		BySeverity:  make(map[Severity]int),
		GeneratedAt: time.Now(),
	}
	for _, e := range a.ring {
		rep.ByCategory[e.Category]++
		rep.BySeverity[e.Severity]++
	}

	if rep.ByCategory[CategoryAuthentication] > 0 {
		rep.Recommendations = append(rep.Recommendations, "authentication errors present: verify credentials")
	}
	if rep.ByCategory[CategoryNetwork] >= 5 {
		rep.Recommendations = append(rep.Recommendations, "repeated network errors: inspect connectivity")
	}
	if rep.ByCategory[CategoryRateLimit] >= 3 {
		rep.Recommendations = append(rep.Recommendations, "rate limits hit repeatedly: lower concurrency or add backoff")
	}
	if rep.ByCategory[CategoryTimeout] >= 5 {
		rep.Recommendations = append(rep.Recommendations, "frequent timeouts: raise timeouts or split long-running skills")
	}
	if rep.BySeverity[SeverityCritical] > 0 {
		rep.Recommendations = append(rep.Recommendations, fmt.Sprintf("%d critical errors retained: inspect the event log", rep.BySeverity[SeverityCritical]))
	}
	return rep
}
