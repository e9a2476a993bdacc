package service

import (
	"context"
	"log"
	"time"
)

// SweepObserver is notified after each sweep. Used to export metrics.
type SweepObserver interface {
	ObserveSweep(deleted int64, err error)
}

// Sweeper periodically deletes expired refresh records. Sweeping is maintenance only; skipping
// it affects storage growth, never correctness.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	observer SweepObserver
}

// NewSweeper returns a Sweeper. observer may be nil.
func NewSweeper(ledger *Ledger, interval time.Duration, observer SweepObserver) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{ledger: ledger, interval: interval, observer: observer}
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single sweep and returns the number of deleted records.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.ledger.SweepExpired(ctx)
	if s.observer != nil {
		s.observer.ObserveSweep(n, err)
	}
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("sweeper: sweep failed: %v", err)
		}
		return 0
	}
	if n > 0 {
		log.Printf("sweeper: deleted %d expired refresh records", n)
	}
	return n
}
