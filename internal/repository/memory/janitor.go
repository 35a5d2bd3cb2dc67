package memory

import (
	"log/slog"
	"sync"
	"time"
)

// Sweeper is anything the janitor can clean on a schedule.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Janitor periodically sweeps expired state out of a store in the background.
type Janitor struct {
	target    Sweeper
	interval  time.Duration
	logger    *slog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewJanitor creates a janitor for target. It does nothing until Start.
func NewJanitor(target Sweeper, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		target:   target,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins sweeping in a background goroutine. Calling it again is a no-op.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		j.logger.Info("starting challenge janitor", slog.Duration("interval", j.interval))
		j.wg.Add(1)
		go j.run()
	})
}

// Stop ends the background loop and waits for it to exit. Safe to call
// more than once, and before Start.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case now := <-ticker.C:
			if n := j.target.Sweep(now); n > 0 {
				j.logger.Debug("swept expired challenges", slog.Int("removed", n))
			}
		}
	}
}
