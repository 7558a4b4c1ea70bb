package sqlkit

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// maxSlowest is the number of statements kept by Stats.Slowest.
const maxSlowest = 5

// stats counts the statements of a client and of the transaction clients
// derived from it. It is fed with the same measurement as the "query-end"
// event.
type stats struct {
	statements atomic.Int64
	failed     atomic.Int64
	rejected   atomic.Int64
	slow       atomic.Int64
	total      atomic.Int64 // nanoseconds

	mu      sync.Mutex
	slowest []SlowStatement // descending by duration
}

// SlowStatement is a statement and the time it took.
type SlowStatement struct {
	SQL      string
	Duration time.Duration
	Failed   bool
}

// Stats is a point-in-time snapshot of a client's statement statistics.
type Stats struct {
	// Statements is the number of statements sent to the driver.
	Statements int64
	// Failed is the number of those the driver returned an error for.
	Failed int64
	// Rejected is the number of templates that failed to resolve and were
	// never sent.
	Rejected int64
	// Slow is the number of statements over the slow threshold.
	Slow int64
	// Total is the time spent on statements, from resolution to the last
	// row read.
	Total time.Duration
	// Slowest holds the slowest statements seen, slowest first.
	Slowest []SlowStatement
}

// Avg returns the average statement duration.
func (s Stats) Avg() time.Duration {
	if s.Statements == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Statements)
}

// String returns a one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf("statements=%d failed=%d rejected=%d slow=%d total=%s avg=%s",
		s.Statements, s.Failed, s.Rejected, s.Slow, s.Total, s.Avg())
}

func (s *stats) record(sql string, d time.Duration, err error, slow bool) {
	s.statements.Add(1)
	s.total.Add(int64(d))
	if err != nil {
		s.failed.Add(1)
	}
	if slow {
		s.slow.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.slowest) == maxSlowest && d <= s.slowest[maxSlowest-1].Duration {
		return
	}
	i := sort.Search(len(s.slowest), func(i int) bool { return s.slowest[i].Duration < d })
	s.slowest = append(s.slowest, SlowStatement{})
	copy(s.slowest[i+1:], s.slowest[i:])
	s.slowest[i] = SlowStatement{SQL: sql, Duration: d, Failed: err != nil}
	if len(s.slowest) > maxSlowest {
		s.slowest = s.slowest[:maxSlowest]
	}
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	slowest := append([]SlowStatement(nil), s.slowest...)
	s.mu.Unlock()
	return Stats{
		Statements: s.statements.Load(),
		Failed:     s.failed.Load(),
		Rejected:   s.rejected.Load(),
		Slow:       s.slow.Load(),
		Total:      time.Duration(s.total.Load()),
		Slowest:    slowest,
	}
}
