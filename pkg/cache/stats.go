package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks cache activity. Counters are atomic so a metrics
// scraper may read them while the owning unit runs.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	flushes   atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Hit records a cache hit.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records an insert or replacement.
func (s *Statistics) Set() { s.sets.Add(1) }

// Delete records a removal without flush.
func (s *Statistics) Delete() { s.deletes.Add(1) }

// Eviction records a cache eviction.
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// Flush records a dirty entry written back.
func (s *Statistics) Flush() { s.flushes.Add(1) }

// UpdateSize records the current number of entries and tracks the peak.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

func (s *Statistics) Hits() int64      { return s.hits.Load() }
func (s *Statistics) Misses() int64    { return s.misses.Load() }
func (s *Statistics) Sets() int64      { return s.sets.Load() }
func (s *Statistics) Deletes() int64   { return s.deletes.Load() }
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }
func (s *Statistics) Flushes() int64   { return s.flushes.Load() }

// CurrentSize returns the current number of entries in the cache.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the largest number of entries the cache has held. It can
// exceed the configured bound while entries are pinned.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0.0
	}
	return float64(hits) / float64(hits+misses)
}

// Uptime returns how long the cache has been running.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Hits        int64         `json:"hits" yaml:"hits"`
	Misses      int64         `json:"misses" yaml:"misses"`
	Sets        int64         `json:"sets" yaml:"sets"`
	Deletes     int64         `json:"deletes" yaml:"deletes"`
	Evictions   int64         `json:"evictions" yaml:"evictions"`
	Flushes     int64         `json:"flushes" yaml:"flushes"`
	CurrentSize int64         `json:"current_size" yaml:"current_size"`
	MaxSize     int64         `json:"max_size" yaml:"max_size"`
	HitRatio    float64       `json:"hit_ratio" yaml:"hit_ratio"`
	Uptime      time.Duration `json:"uptime" yaml:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:        s.Hits(),
		Misses:      s.Misses(),
		Sets:        s.Sets(),
		Deletes:     s.Deletes(),
		Evictions:   s.Evictions(),
		Flushes:     s.Flushes(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		HitRatio:    s.HitRatio(),
		Uptime:      s.Uptime(),
	}
}
