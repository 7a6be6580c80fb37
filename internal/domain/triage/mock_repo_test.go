package triage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory AssessmentRepository.
type memRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*Assessment
	createErr error
	updateErr map[uuid.UUID]error
	updates   int
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[uuid.UUID]*Assessment{}, updateErr: map[uuid.UUID]error{}}
}

func (m *memRepo) Create(_ context.Context, a *Assessment) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memRepo) sorted(keep func(*Assessment) bool) []*Assessment {
	var out []*Assessment
	for _, a := range m.items {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssessedAt.After(out[j].AssessedAt) })
	return out
}

func page(all []*Assessment, limit, offset int) ([]*Assessment, int) {
	total := len(all)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total
}

func (m *memRepo) List(_ context.Context, limit, offset int) ([]*Assessment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, total := page(m.sorted(func(*Assessment) bool { return true }), limit, offset)
	return items, total, nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, total := page(m.sorted(func(a *Assessment) bool { return a.PatientID == patientID }), limit, offset)
	return items, total, nil
}

func (m *memRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := func(a *Assessment) bool {
		if v, ok := params["risk_level"]; ok && string(a.RiskLevel) != v {
			return false
		}
		if v, ok := params["hospital_id"]; ok && (a.HospitalID == nil || a.HospitalID.String() != v) {
			return false
		}
		return true
	}
	items, total := page(m.sorted(keep), limit, offset)
	return items, total, nil
}

func (m *memRepo) UpdateClassification(_ context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[a.ID]; err != nil {
		return err
	}
	stored, ok := m.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Score = a.Score
	stored.RiskLevel = a.RiskLevel
	stored.CriticalMatch = a.CriticalMatch
	stored.UnknownSymptoms = a.UnknownSymptoms
	stored.UpdatedAt = time.Now().UTC()
	m.updates++
	return nil
}

func (m *memRepo) CountByLevel(_ context.Context) (map[RiskLevel]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[RiskLevel]int{LevelHigh: 0, LevelMedium: 0, LevelLow: 0}
	for _, a := range m.items {
		out[a.RiskLevel]++
	}
	return out, nil
}

var errStore = errors.New("store unavailable")
