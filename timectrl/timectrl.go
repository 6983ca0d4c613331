// Package timectrl drives the agent's periodic work: reconciliation passes
// and statistics polling run as jobs on their own tickers.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall-clock time so tests can observe tick times.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Job is one periodic task. Run is invoked once per Interval with the tick
// time; a slow run delays the next one rather than overlapping it.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time)
}

// Controller runs registered jobs until its context is cancelled.
type Controller struct {
	mu    sync.RWMutex
	clock Clock
	jobs  []Job
	runs  map[string]uint64
	last  map[string]time.Time
}

// NewController constructs a controller using clock, or wall-clock time
// when clock is nil.
func NewController(clock Clock) *Controller {
	if clock == nil {
		clock = realClock{}
	}
	return &Controller{
		clock: clock,
		runs:  make(map[string]uint64),
		last:  make(map[string]time.Time),
	}
}

// AddJob registers a job. Jobs added after Start are not run.
func (c *Controller) AddJob(j Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, j)
}

// Start runs every job on its own ticker. It returns a channel that is
// closed once ctx is done and all jobs have returned.
func (c *Controller) Start(ctx context.Context) <-chan struct{} {
	c.mu.RLock()
	jobs := append([]Job(nil), c.jobs...)
	c.mu.RUnlock()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, j := range jobs {
		if j.Interval <= 0 || j.Run == nil {
			continue
		}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			c.loop(ctx, j)
		}(j)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func (c *Controller) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := c.clock.Now()
		j.Run(ctx, now)

		c.mu.Lock()
		c.runs[j.Name]++
		c.last[j.Name] = now
		c.mu.Unlock()
	}
}

// Runs returns how many times the named job has completed.
func (c *Controller) Runs(name string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runs[name]
}

// LastRun returns the tick time of the named job's latest completed run.
func (c *Controller) LastRun(name string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.last[name]
	return t, ok
}
