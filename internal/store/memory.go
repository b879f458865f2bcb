package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// MemoryStore is an in-process Store used by tests and single-binary
// development runs. Reports are copied on the way in and out so callers
// never share memory with the stored state.
type MemoryStore struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*memoryReport
	keys    map[uuid.UUID]*models.APIKey
	seq     int64
	now     func() time.Time
}

type memoryReport struct {
	job *models.ReportJob
	seq int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[uuid.UUID]*memoryReport),
		keys:    make(map[uuid.UUID]*models.APIKey),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			keys = append(keys, &c)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return nil
	}
	now := s.now()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key.ID]; exists {
		return ErrDuplicateKey
	}
	for _, k := range s.keys {
		if k.OwnerID == key.OwnerID && k.Name == key.Name && k.DeletedAt == nil {
			return ErrDuplicateKey
		}
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

func (s *MemoryStore) CreateReport(_ context.Context, job *models.ReportJob) error {
	if err := validateNew(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reports[job.ID]; exists {
		return ErrDuplicateKey
	}
	s.seq++
	s.reports[job.ID] = &memoryReport{job: job.Clone(), seq: s.seq}
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id uuid.UUID) (*models.ReportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.job.Clone(), nil
}

func (s *MemoryStore) ListReports(_ context.Context, filter ReportFilter) ([]*models.ReportJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*memoryReport
	for _, r := range s.reports {
		if filter.OwnerID == "" || r.job.OwnerID == filter.OwnerID {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.After(b.job.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := len(matched)
	offset, limit := NormalizePage(filter.Offset, filter.Limit)
	jobs := []*models.ReportJob{}
	for i := offset; i < total && len(jobs) < limit; i++ {
		jobs = append(jobs, matched[i].job.Clone())
	}
	return jobs, total, nil
}

func (s *MemoryStore) UpdateReport(_ context.Context, id uuid.UUID, fn Mutator) (*models.ReportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := applyMutation(r.job, fn, s.now())
	if errors.Is(err, ErrNoChange) {
		return r.job.Clone(), ErrNoChange
	}
	if err != nil {
		return nil, err
	}
	r.job = next
	return next.Clone(), nil
}

func (s *MemoryStore) DeleteReport(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[id]; !ok {
		return false, nil
	}
	delete(s.reports, id)
	return true, nil
}

func (s *MemoryStore) ListStaleReports(_ context.Context, filter StaleFilter) ([]*models.ReportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*memoryReport
	for _, r := range s.reports {
		j := r.job
		switch {
		case j.Status == models.ReportStatusQueued && j.CreatedAt.Before(filter.QueuedBefore):
			stale = append(stale, r)
		case j.Status == models.ReportStatusProcessing && j.LeaseExpiresAt != nil &&
			j.LeaseExpiresAt.Before(filter.LeaseExpiredBefore):
			stale = append(stale, r)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].job.CreatedAt.Equal(stale[j].job.CreatedAt) {
			return stale[i].job.CreatedAt.Before(stale[j].job.CreatedAt)
		}
		return stale[i].seq < stale[j].seq
	})

	_, limit := NormalizePage(0, filter.Limit)
	var jobs []*models.ReportJob
	for i := 0; i < len(stale) && i < limit; i++ {
		jobs = append(jobs, stale[i].job.Clone())
	}
	return jobs, nil
}
