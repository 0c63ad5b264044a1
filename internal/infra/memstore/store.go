// Package memstore keeps subjects, cycles, examinations and cached forecasts
// in memory. It satisfies the same repository interfaces as the Postgres
// store and is used by tests and by STORAGE_DRIVER=memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"
)

// Store is safe for concurrent use. Values are copied on the way in and out
// so callers never share memory with the store.
type Store struct {
	mu           sync.RWMutex
	subjects     map[int64]*subject.Subject
	cycles       map[int64]*cycle.Cycle
	examinations map[int64][]*cycle.Examination // by cycle id
	forecasts    map[int64]*cycle.CachedForecast
	nextID       int64
	now          func() time.Time
}

func New() *Store {
	return &Store{
		subjects:     make(map[int64]*subject.Subject),
		cycles:       make(map[int64]*cycle.Cycle),
		examinations: make(map[int64][]*cycle.Examination),
		forecasts:    make(map[int64]*cycle.CachedForecast),
		now:          time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// --- Subject methods ---

func (s *Store) CreateSubject(_ context.Context, sub *subject.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = s.id()
	sub.CreatedAt = s.now()
	sub.UpdatedAt = sub.CreatedAt
	cp := *sub
	s.subjects[sub.ID] = &cp
	return nil
}

func (s *Store) GetSubjectByID(_ context.Context, id int64) (*subject.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[id]
	if !ok {
		return nil, &cycle.NotFoundError{Entity: "subject", ID: id}
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) GetSubjectByTelegramID(_ context.Context, telegramID int64) (*subject.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subjects {
		if sub.TelegramID == telegramID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, &cycle.NotFoundError{Entity: "subject with telegram id", ID: telegramID}
}

func (s *Store) UpdateSubject(_ context.Context, sub *subject.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[sub.ID]; !ok {
		return &cycle.NotFoundError{Entity: "subject", ID: sub.ID}
	}
	sub.UpdatedAt = s.now()
	cp := *sub
	s.subjects[sub.ID] = &cp
	return nil
}

func (s *Store) ListActiveSubjects(_ context.Context) ([]*subject.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*subject.Subject, 0)
	for _, sub := range s.subjects {
		if sub.IsActive {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Subjects adapts the store to subject.Repository.
func (s *Store) Subjects() subject.Repository {
	return subjectRepo{s}
}

type subjectRepo struct{ s *Store }

func (r subjectRepo) Create(ctx context.Context, sub *subject.Subject) error {
	return r.s.CreateSubject(ctx, sub)
}

func (r subjectRepo) GetByID(ctx context.Context, id int64) (*subject.Subject, error) {
	return r.s.GetSubjectByID(ctx, id)
}

func (r subjectRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*subject.Subject, error) {
	return r.s.GetSubjectByTelegramID(ctx, telegramID)
}

func (r subjectRepo) Update(ctx context.Context, sub *subject.Subject) error {
	return r.s.UpdateSubject(ctx, sub)
}

func (r subjectRepo) ListActive(ctx context.Context) ([]*subject.Subject, error) {
	return r.s.ListActiveSubjects(ctx)
}

// --- Cycle methods ---

func (s *Store) Create(_ context.Context, c *cycle.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	s.cycles[c.ID] = c.Clone()
	return nil
}

func (s *Store) Update(_ context.Context, c *cycle.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[c.ID]; !ok {
		return &cycle.NotFoundError{Entity: "cycle", ID: c.ID}
	}
	c.UpdatedAt = s.now()
	s.cycles[c.ID] = c.Clone()
	return nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*cycle.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, &cycle.NotFoundError{Entity: "cycle", ID: id}
	}
	return c.Clone(), nil
}

func (s *Store) ListBySubject(_ context.Context, subjectID int64) ([]*cycle.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*cycle.Cycle, 0)
	for _, c := range s.cycles {
		if c.SubjectID == subjectID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OnahStart.Equal(out[j].OnahStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].OnahStart.Before(out[j].OnahStart)
	})
	return out, nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[id]; !ok {
		return &cycle.NotFoundError{Entity: "cycle", ID: id}
	}
	delete(s.cycles, id)
	delete(s.examinations, id)
	delete(s.forecasts, id)
	return nil
}

// --- Examination methods ---

func (s *Store) CreateExamination(_ context.Context, e *cycle.Examination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[e.CycleID]; !ok {
		return &cycle.NotFoundError{Entity: "cycle", ID: e.CycleID}
	}
	e.ID = s.id()
	e.CreatedAt = s.now()
	cp := *e
	s.examinations[e.CycleID] = append(s.examinations[e.CycleID], &cp)
	return nil
}

func (s *Store) ListExaminations(_ context.Context, cycleID int64) ([]*cycle.Examination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*cycle.Examination, 0, len(s.examinations[cycleID]))
	for _, e := range s.examinations[cycleID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// --- Forecast cache methods ---

func (s *Store) GetForecast(_ context.Context, cycleID int64) (*cycle.CachedForecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forecasts[cycleID]
	if !ok {
		return nil, &cycle.NotFoundError{Entity: "cached forecast", ID: cycleID}
	}
	return cloneForecast(f), nil
}

func (s *Store) SaveForecast(_ context.Context, f *cycle.CachedForecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[f.CycleID]; !ok {
		return &cycle.NotFoundError{Entity: "cycle", ID: f.CycleID}
	}
	s.forecasts[f.CycleID] = cloneForecast(f)
	return nil
}

// cloneForecast copies the entry together with the forecast it points to.
func cloneForecast(f *cycle.CachedForecast) *cycle.CachedForecast {
	cp := *f
	if f.Forecast == nil {
		return &cp
	}
	fc := *f.Forecast
	if f.Forecast.Interval != nil {
		interval := *f.Forecast.Interval
		fc.Interval = &interval
	}
	if f.Forecast.Variants != nil {
		fc.Variants = make(map[cycle.VariantKey]onah.Period, len(f.Forecast.Variants))
		for k, v := range f.Forecast.Variants {
			fc.Variants[k] = v
		}
	}
	cp.Forecast = &fc
	return &cp
}

func (s *Store) MarkForecastsDirty(_ context.Context, cycleIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range cycleIDs {
		c, ok := s.cycles[id]
		if !ok {
			continue
		}
		if f, ok := s.forecasts[id]; ok {
			f.Dirty = true
			continue
		}
		s.forecasts[id] = &cycle.CachedForecast{CycleID: id, SubjectID: c.SubjectID, Dirty: true}
	}
	return nil
}

func (s *Store) ListSubjectsWithDirtyForecasts(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]bool)
	out := make([]int64, 0)
	for _, f := range s.forecasts {
		if f.Dirty && !seen[f.SubjectID] {
			seen[f.SubjectID] = true
			out = append(out, f.SubjectID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
