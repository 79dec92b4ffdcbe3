package source

import (
	"context"
	"slices"
	"sync"

	"github.com/platinummonkey/gpureport/pkg/stats"
	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

// MemorySource serves records held in memory
type MemorySource struct {
	mu      sync.RWMutex
	records []stats.TaskRecord
}

// NewMemorySource creates a source holding records
func NewMemorySource(records ...stats.TaskRecord) *MemorySource {
	s := &MemorySource{}
	s.Add(records...)
	return s
}

// Add appends records
func (s *MemorySource) Add(records ...stats.TaskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// Len returns the number of records held
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Query returns copies of the records starting in w, ordered by start time
func (s *MemorySource) Query(ctx context.Context, w timewindow.Window) ([]stats.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []stats.TaskRecord
	for _, r := range s.records {
		if w.Contains(r.StartTime) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b stats.TaskRecord) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out, nil
}
