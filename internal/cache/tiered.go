package cache

import (
	"sync/atomic"
	"time"
)

// Tiered pairs the main cache with a preload tier filled speculatively. A preload hit is
// promoted into main and removed from preload; nothing is ever demoted.
type Tiered[T any] struct {
	main    *Cache[T]
	preload *Cache[T]

	hits        atomic.Int64
	preloadHits atomic.Int64
	misses      atomic.Int64
}

func NewTiered[T any](mainTTL, preloadTTL time.Duration, now func() time.Time) *Tiered[T] {
	return &Tiered[T]{
		main:    New[T](mainTTL, now),
		preload: New[T](preloadTTL, now),
	}
}

func (t *Tiered[T]) Get(key string) (T, bool) {
	if value, ok := t.main.Get(key); ok {
		t.hits.Add(1)
		return value, true
	}
	if value, ok := t.preload.Take(key); ok {
		t.main.Put(key, value)
		t.preloadHits.Add(1)
		return value, true
	}
	t.misses.Add(1)
	var zero T
	return zero, false
}

func (t *Tiered[T]) Put(key string, value T) {
	t.main.Put(key, value)
}

// Preload stores into the preload tier only. Keys already fresh in main are left alone.
func (t *Tiered[T]) Preload(key string, value T) {
	if _, ok := t.main.Get(key); ok {
		return
	}
	t.preload.Put(key, value)
}

// Has reports a fresh entry in either tier without promoting it.
func (t *Tiered[T]) Has(key string) bool {
	if _, ok := t.main.Get(key); ok {
		return true
	}
	_, ok := t.preload.Get(key)
	return ok
}

type Stats struct {
	Hits        int64 `json:"hits"`
	PreloadHits int64 `json:"preloadHits"`
	Misses      int64 `json:"misses"`
	MainSize    int   `json:"mainSize"`
	PreloadSize int   `json:"preloadSize"`
}

func (t *Tiered[T]) Stats() Stats {
	return Stats{
		Hits:        t.hits.Load(),
		PreloadHits: t.preloadHits.Load(),
		Misses:      t.misses.Load(),
		MainSize:    t.main.Len(),
		PreloadSize: t.preload.Len(),
	}
}

// Add sums two stat snapshots, for reporting several caches as one.
func (s Stats) Add(other Stats) Stats {
	return Stats{
		Hits:        s.Hits + other.Hits,
		PreloadHits: s.PreloadHits + other.PreloadHits,
		Misses:      s.Misses + other.Misses,
		MainSize:    s.MainSize + other.MainSize,
		PreloadSize: s.PreloadSize + other.PreloadSize,
	}
}
