package queue

import (
	"sync/atomic"
)

// Statistics tracks queue activity. All methods are safe for concurrent use.
type Statistics struct {
	pushes  atomic.Int64
	pops    atomic.Int64
	drops   atomic.Int64
	maxSize atomic.Int64
}

// NewStatistics creates a zeroed statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) push(size int) {
	s.pushes.Add(1)
	for {
		cur := s.maxSize.Load()
		if int64(size) <= cur || s.maxSize.CompareAndSwap(cur, int64(size)) {
			return
		}
	}
}

func (s *Statistics) pop(int) {
	s.pops.Add(1)
}

func (s *Statistics) drop() {
	s.drops.Add(1)
}

// Pushes returns the number of accepted items.
func (s *Statistics) Pushes() int64 { return s.pushes.Load() }

// Pops returns the number of removed items.
func (s *Statistics) Pops() int64 { return s.pops.Load() }

// Drops returns the number of discarded items.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// DropRate returns drops / (pushes + drops), 0 when idle.
func (s *Statistics) DropRate() float64 {
	drops := s.Drops()
	total := s.Pushes() + drops
	if total == 0 {
		return 0
	}
	return float64(drops) / float64(total)
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Pushes   int64   `json:"pushes"`
	Pops     int64   `json:"pops"`
	Drops    int64   `json:"drops"`
	MaxSize  int64   `json:"max_size"`
	DropRate float64 `json:"drop_rate"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Pushes:   s.Pushes(),
		Pops:     s.Pops(),
		Drops:    s.Drops(),
		MaxSize:  s.MaxSize(),
		DropRate: s.DropRate(),
	}
}
