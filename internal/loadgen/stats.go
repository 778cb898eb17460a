package loadgen

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/whisper/contentguard/internal/moderation"
)

// Collector aggregates results from many simulated editors. All methods are
// goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	settleLatencies  []time.Duration
	states           map[moderation.DraftState]int
	checksStarted    int
	drafts           int
	errors           int
	connections      int
	startTime        time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		states:    make(map[moderation.DraftState]int),
		startTime: time.Now(),
	}
}

// AddConnect records a successful connection.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddDraft records one typed draft: the time from its last keystroke to its
// settled state, that state, and how many checks started while it was typed.
func (c *Collector) AddDraft(settle time.Duration, state moderation.DraftState, checks int) {
	c.mu.Lock()
	c.settleLatencies = append(c.settleLatencies, settle)
	c.states[state]++
	c.checksStarted += checks
	c.drafts++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Drafts returns the number of drafts recorded.
func (c *Collector) Drafts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drafts
}

// ErrorCount returns the number of errors recorded.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report writes a summary with percentile distributions to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== Draft Load Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(w, "Connections:  %d\n", c.connections)
	fmt.Fprintf(w, "Drafts:       %d\n", c.drafts)
	fmt.Fprintf(w, "Errors:       %d\n", c.errors)
	if c.drafts > 0 {
		fmt.Fprintf(w, "Checks/draft: %.2f\n", float64(c.checksStarted)/float64(c.drafts))
		for _, s := range []moderation.DraftState{moderation.StateClean, moderation.StateFlagged, moderation.StateCheckFailed} {
			fmt.Fprintf(w, "  %-12s %d\n", s+":", c.states[s])
		}
	}

	if len(c.connectLatencies) > 0 {
		fmt.Fprintln(w, "\n--- Connect Latency ---")
		printPercentiles(w, c.connectLatencies)
	}
	if len(c.settleLatencies) > 0 {
		fmt.Fprintln(w, "\n--- Settle Latency (last keystroke to verdict) ---")
		printPercentiles(w, c.settleLatencies)
	}
	fmt.Fprintln(w)
}

// Percentile returns the p-th percentile (0 < p <= 1) of durations, which it
// sorts in place.
func Percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := int(math.Ceil(float64(len(durations))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	return durations[idx]
}

func printPercentiles(w io.Writer, durations []time.Duration) {
	n := len(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		(sum / time.Duration(n)).Round(time.Microsecond),
		Percentile(durations, 0.50).Round(time.Microsecond),
		Percentile(durations, 0.95).Round(time.Microsecond),
		Percentile(durations, 0.99).Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
