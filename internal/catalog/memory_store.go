package catalog

import (
	"sync"

	"github.com/flowlinehq/flowline/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe JournalStore backed by maps.
type InMemoryStore struct {
	mu    sync.RWMutex
	flows map[string]api.FlowRecord
	runs  map[string]api.RunRecord
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows: make(map[string]api.FlowRecord),
		runs:  make(map[string]api.RunRecord),
	}
}

// Ensure InMemoryStore implements JournalStore.
var _ api.JournalStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveFlow(rec api.FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[rec.Name] = rec
	return nil
}

func (s *InMemoryStore) GetFlow(name string) (api.FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.flows[name]
	if !ok {
		return api.FlowRecord{}, api.ErrFlowRecordNotFound
	}

	return rec, nil
}

func (s *InMemoryStore) ListFlows() ([]api.FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]api.FlowRecord, 0, len(s.flows))
	for _, rec := range s.flows {
		result = append(result, rec)
	}

	return result, nil
}

func (s *InMemoryStore) SaveRun(rec api.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[rec.RunID] = rec
	return nil
}

func (s *InMemoryStore) UpdateRun(rec api.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[rec.RunID]; !ok {
		return api.ErrRunRecordNotFound
	}

	s.runs[rec.RunID] = rec
	return nil
}

func (s *InMemoryStore) GetRun(runID string) (api.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[runID]
	if !ok {
		return api.RunRecord{}, api.ErrRunRecordNotFound
	}

	return rec, nil
}

func (s *InMemoryStore) ListRuns(filter api.RunFilter) ([]api.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []api.RunRecord

	for _, rec := range s.runs {
		if filter.FlowName != "" && rec.FlowName != filter.FlowName {
			continue
		}
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		result = append(result, rec)
	}

	return result, nil
}
