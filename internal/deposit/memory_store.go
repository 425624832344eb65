package deposit

import (
	"context"
	"sync"
)

// MemoryStore is the in-process Store used by tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Deposit
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Deposit)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Deposit, error) {
	if err := validateID(id); err != nil {
		return Deposit{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.records[id]
	if !ok {
		return Deposit{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) Create(_ context.Context, d Deposit) (bool, error) {
	if err := validateID(d.ID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[d.ID]; ok {
		return false, nil
	}
	s.records[d.ID] = d
	s.order = append(s.order, d.ID)
	return true, nil
}

func (s *MemoryStore) Put(_ context.Context, d Deposit) error {
	if err := validateID(d.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[d.ID]; !ok {
		s.order = append(s.order, d.ID)
	}
	s.records[d.ID] = d
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Deposit, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Deposit, 0, len(s.order))
	for _, id := range s.order {
		if d := s.records[id]; d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}
