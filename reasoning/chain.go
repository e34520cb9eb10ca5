// Package reasoning builds the human-readable reasoning chain that
// accompanies every RAG answer: one line per retrieval decision, with
// elapsed time, persisted alongside the query record.
package reasoning

import (
	"fmt"
	"sync"
	"time"
)

// Chain accumulates reasoning lines during a query. Safe for use from
// the parallel retriever goroutines.
type Chain struct {
	mu    sync.Mutex
	start time.Time
	now   func() time.Time
	lines []string
}

func NewChain() *Chain {
	now := time.Now
	return &Chain{start: now(), now: now}
}

// Add appends a formatted line stamped with elapsed time since the
// chain started.
func (c *Chain) Add(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.now().Sub(c.start).Milliseconds()
	c.lines = append(c.lines, fmt.Sprintf("[%dms] %s", elapsed, fmt.Sprintf(format, args...)))
}

// Lines returns a copy of the accumulated chain.
func (c *Chain) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Elapsed reports time since the chain started.
func (c *Chain) Elapsed() time.Duration {
	return c.now().Sub(c.start)
}
