package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

var (
	// ErrNotFound is returned when no data is available for a given city.
	ErrNotFound = errors.New("no readings for city")
)

// MemoryStore is a concurrency-safe in-memory history of readings per city.
// It backs the HTTP API and the live-reading alert checks.
type MemoryStore struct {
	mu sync.RWMutex

	// key: city, value: time-ordered readings
	data map[string][]climate.Reading

	// retention configuration
	maxHistory int           // max number of readings per city
	maxAge     time.Duration // optional max age for readings
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string][]climate.Reading),
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// Save appends a reading for its city and enforces retention.
func (s *MemoryStore) Save(r climate.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.data[r.City], r)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}

	// Enforce retention by age, always keeping the newest reading.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(history)-1; i++ {
			if !history[i].Timestamp.Before(cutoff) {
				break
			}
		}
		history = history[i:]
	}

	s.data[r.City] = history
}

// Latest returns the most recent reading for a city.
func (s *MemoryStore) Latest(city string) (climate.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.data[city]
	if len(history) == 0 {
		return climate.Reading{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

// Range returns all readings for a city between from and to (inclusive).
func (s *MemoryStore) Range(city string, from, to time.Time) ([]climate.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []climate.Reading
	for _, r := range s.data[city] {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Cities returns the cities with at least one reading, sorted.
func (s *MemoryStore) Cities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.data))
	for city, h := range s.data {
		if len(h) > 0 {
			out = append(out, city)
		}
	}
	sort.Strings(out)
	return out
}

// Load seeds the store from previously persisted readings.
func (s *MemoryStore) Load(readings []climate.Reading) {
	for _, r := range readings {
		s.Save(r)
	}
}
