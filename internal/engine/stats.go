package engine

import (
	"sync/atomic"
	"time"
)

// Statistics are the in-process counters of one universe. They are fed by
// the same events as the configured metrics.Recorder.
type Statistics struct {
	transactions   atomic.Int64
	observerRuns   atomic.Int64
	changes        atomic.Int64
	merges         atomic.Int64
	mergeConflicts atomic.Int64
	deferrals      atomic.Int64
}

// StatisticsSnapshot is a copy of the counters.
type StatisticsSnapshot struct {
	Transactions   int64
	ObserverRuns   int64
	Changes        int64
	Merges         int64
	MergeConflicts int64
	Deferrals      int64
}

// Snapshot copies the counters.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		Transactions:   s.transactions.Load(),
		ObserverRuns:   s.observerRuns.Load(),
		Changes:        s.changes.Load(),
		Merges:         s.merges.Load(),
		MergeConflicts: s.mergeConflicts.Load(),
		Deferrals:      s.deferrals.Load(),
	}
}

func (s *Statistics) TransactionCompleted(string, time.Duration) { s.transactions.Add(1) }

func (s *Statistics) ObserverRun(_ string, changes int) {
	s.observerRuns.Add(1)
	s.changes.Add(int64(changes))
}

func (s *Statistics) Merge(int) { s.merges.Add(1) }

func (s *Statistics) MergeConflict() { s.mergeConflicts.Add(1) }

func (s *Statistics) Deferred(string) { s.deferrals.Add(1) }

func (s *Statistics) QueueDepth(int) {}

func (s *Statistics) Killed() {}
