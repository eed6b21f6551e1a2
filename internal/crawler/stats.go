package crawler

import (
	"sync"
	"time"

	"github.com/JakeFAU/retail-content-ingestor/internal/index"
)

// State is the traversal phase of a site crawl.
type State string

// Site crawl states.
const (
	StateSeeded     State = "seeded"
	StateTraversing State = "traversing"
	StateDrained    State = "drained"
	StateCanceled   State = "canceled"
)

// SiteStats summarizes one site crawl.
type SiteStats struct {
	Site  string
	State State
	// Discovered counts URLs admitted to the frontier, seeds included.
	Discovered int
	Fetched    int
	Added      int
	Replaced   int
	Unchanged  int
	// Empty counts fetched documents without extractable text.
	Empty int
	// Skipped counts unsupported content and documents below the minimum length.
	Skipped  int
	Failed   int
	Duration time.Duration
}

type siteCounters struct {
	mu    sync.Mutex
	stats SiteStats
}

func (c *siteCounters) update(fn func(*SiteStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)
}

func (c *siteCounters) setState(state State) {
	c.update(func(s *SiteStats) { s.State = state })
}

func (c *siteCounters) record(outcome index.Outcome) {
	c.update(func(s *SiteStats) {
		switch outcome {
		case index.OutcomeAdded:
			s.Added++
		case index.OutcomeReplaced:
			s.Replaced++
		case index.OutcomeUnchanged:
			s.Unchanged++
		case index.OutcomeSkipped:
			s.Skipped++
		}
	})
}

func (c *siteCounters) snapshot(elapsed time.Duration) SiteStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.Duration = elapsed
	return out
}
