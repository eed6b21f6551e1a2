// Package frontier implements the run-scoped, breadth-first URL queue used by
// one site crawl.
package frontier

import "sync"

// Item is a discovered URL awaiting a fetch.
type Item struct {
	URL   string
	Depth int
}

// Frontier is a FIFO queue with a permanent seen-set bounded by maxPages.
// A single mutex covers Add, Next and HasNext, so it is safe under
// concurrent producers and consumers.
type Frontier struct {
	mu       sync.Mutex
	queue    []Item
	seen     map[string]struct{}
	maxPages int
}

// New creates a Frontier admitting at most maxPages distinct URLs. A
// non-positive maxPages means unbounded.
func New(maxPages int) *Frontier {
	return &Frontier{
		seen:     make(map[string]struct{}),
		maxPages: maxPages,
	}
}

// Add enqueues url at depth unless it was already seen or the seen-count has
// reached the cap. It reports whether the URL was enqueued. URLs past the cap
// are dropped silently.
func (f *Frontier) Add(url string, depth int) bool {
	if url == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[url]; ok {
		return false
	}
	if f.maxPages > 0 && len(f.seen) >= f.maxPages {
		return false
	}
	f.seen[url] = struct{}{}
	f.queue = append(f.queue, Item{URL: url, Depth: depth})
	return true
}

// HasNext reports whether an item is queued.
func (f *Frontier) HasNext() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) > 0
}

// Next dequeues the oldest item. The boolean is false when the queue is empty.
func (f *Frontier) Next() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return Item{}, false
	}
	item := f.queue[0]
	f.queue[0] = Item{}
	f.queue = f.queue[1:]
	return item, true
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Seen returns the number of distinct URLs admitted so far.
func (f *Frontier) Seen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}
