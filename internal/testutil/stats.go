package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/marcelsud/webhook-relay/stats"
)

type statsKey struct {
	endpointID string
	day        string
}

// StatsStore is an in-memory stats.Repository
type StatsStore struct {
	mu   sync.Mutex
	rows map[statsKey]stats.Stats
}

func NewStatsStore() *StatsStore {
	return &StatsStore{rows: make(map[statsKey]stats.Stats)}
}

func key(endpointID string, day time.Time) statsKey {
	return statsKey{endpointID: endpointID, day: day.Format(time.DateOnly)}
}

func (s *StatsStore) IncrementReceived(_ context.Context, endpointID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(endpointID, day)
	row := s.rows[k]
	row.EndpointID, row.Date = endpointID, day
	row.TotalReceived++
	s.rows[k] = row
	return nil
}

func (s *StatsStore) DecrementReceived(_ context.Context, endpointID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(endpointID, day)
	row, ok := s.rows[k]
	if !ok {
		return nil
	}
	if row.TotalReceived > row.TotalDelivered+row.TotalFailed {
		row.TotalReceived--
	}
	s.rows[k] = row
	return nil
}

func (s *StatsStore) RecordOutcome(_ context.Context, endpointID string, day time.Time, success bool, durationMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(endpointID, day)
	row := s.rows[k]
	row.EndpointID, row.Date = endpointID, day
	row.AvgResponseTimeMs = stats.NextAverage(row.AvgResponseTimeMs, row.TotalDelivered, row.TotalFailed, durationMs)
	if success {
		row.TotalDelivered++
	} else {
		row.TotalFailed++
	}
	s.rows[k] = row
	return nil
}

func (s *StatsStore) Get(_ context.Context, endpointID string, day time.Time) (stats.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key(endpointID, day)]
	if !ok {
		return stats.Stats{}, stats.ErrNotFound
	}
	return row, nil
}

func (s *StatsStore) List(_ context.Context, endpointID string, from, to time.Time) ([]stats.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stats.Stats
	for d := stats.Day(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if row, ok := s.rows[key(endpointID, d)]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}
