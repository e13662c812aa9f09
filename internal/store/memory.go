package store

import (
	"context"
	"sync"
	"time"
)

// DefaultMemorySize covers 24h of samples at the default 30s interval.
const DefaultMemorySize = 2880

// Memory keeps the most recent samples in a ring buffer. It backs
// "memory://" URLs and tests.
type Memory struct {
	mu    sync.RWMutex
	ring  *sampleRing
	index map[time.Time]struct{}
	now   func() time.Time
}

// NewMemory creates a store holding at most size samples.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{
		ring:  newSampleRing(size),
		index: make(map[time.Time]struct{}),
		now:   time.Now,
	}
}

// Insert implements Sink. Rows whose timestamp is already held are dropped.
func (m *Memory) Insert(_ context.Context, s MetricSample) error {
	if s.TS.IsZero() {
		s.TS = m.now()
	}
	s.TS = normalizeTS(s.TS)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.index[s.TS]; dup {
		return nil
	}
	if evicted, ok := m.ring.push(s); ok {
		delete(m.index, evicted.TS)
	}
	m.index[s.TS] = struct{}{}
	return nil
}

// Latest implements Reader.
func (m *Memory) Latest(_ context.Context) (*MetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *MetricSample
	for _, s := range m.ring.getAll() {
		if latest == nil || s.TS.After(latest.TS) {
			s := s
			latest = &s
		}
	}
	return latest, nil
}

// OffsetBuckets implements Reader.
func (m *Memory) OffsetBuckets(_ context.Context, window, interval string) ([]OffsetBucket, error) {
	w, i, err := resolveRange(window, interval)
	if err != nil {
		return nil, err
	}

	cutoff := m.now().Add(-w.duration)

	m.mu.RLock()
	var rows []offsetRow
	for _, s := range m.ring.getAll() {
		if s.TS.Before(cutoff) {
			continue
		}
		rows = append(rows, offsetRow{ts: s.TS, offset: s.LastOffsetSec})
	}
	m.mu.RUnlock()

	return aggregateOffsets(rows, i.duration), nil
}

// Len returns the number of samples held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ring.count
}

// All returns the held samples, oldest insert first.
func (m *Memory) All() []MetricSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ring.getAll()
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

// sampleRing is a fixed-size circular buffer of samples.
type sampleRing struct {
	data  []MetricSample
	head  int
	count int
	size  int
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{
		data: make([]MetricSample, size),
		size: size,
	}
}

// push stores s and returns the sample it overwrote, if the ring was full.
func (r *sampleRing) push(s MetricSample) (MetricSample, bool) {
	evicted, full := r.data[r.head], r.count == r.size
	r.data[r.head] = s
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	return evicted, full
}

// getAll returns the stored samples in insertion order (oldest first).
func (r *sampleRing) getAll() []MetricSample {
	if r.count == 0 {
		return nil
	}
	out := make([]MetricSample, r.count)
	// head is the next write position, so the oldest entry sits count slots back
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%r.size]
	}
	return out
}
