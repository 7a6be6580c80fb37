package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	reclassifyPageSize = 100
	reclassifyWorkers  = 8
	// MaxSymptoms bounds a single submission.
	MaxSymptoms = 64
)

type Service struct {
	classifier  *Classifier
	assessments AssessmentRepository
	logger      zerolog.Logger
	metrics     *Metrics
}

func NewService(classifier *Classifier, assessments AssessmentRepository, logger zerolog.Logger) *Service {
	return &Service{
		classifier:  classifier,
		assessments: assessments,
		logger:      logger.With().Str("component", "triage").Logger(),
	}
}

// SetMetrics attaches optional prometheus collectors to the service.
func (s *Service) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Classifier returns the classifier the service was built with.
func (s *Service) Classifier() *Classifier {
	return s.classifier
}

// Classify runs the classifier without touching the assessment store.
func (s *Service) Classify(symptoms []SymptomID) Result {
	r := s.classifier.Classify(symptoms)
	s.record(r)
	return r
}

func (s *Service) record(r Result) {
	s.metrics.observe(r)

	s.logger.Debug().
		Int("score", r.Score).
		Str("level", string(r.Level)).
		Bool("critical", r.CriticalMatch != nil).
		Msg("symptoms classified")

	if len(r.Warnings) > 0 {
		unknown := make([]string, 0, len(r.Warnings))
		for _, w := range r.Warnings {
			unknown = append(unknown, string(w.Symptom))
		}
		s.logger.Warn().Strs("unknown_symptoms", unknown).Msg("unrecognized symptoms submitted")
	}
}

// Assess classifies the assessment's symptoms, fills in the derived fields
// and stores it.
func (s *Service) Assess(ctx context.Context, a *Assessment) (Result, error) {
	if a.PatientID == uuid.Nil {
		return Result{}, fmt.Errorf("%w: patient_id is required", ErrInvalidAssessment)
	}
	if len(a.Symptoms) == 0 {
		return Result{}, fmt.Errorf("%w: symptoms is required", ErrInvalidAssessment)
	}
	if len(a.Symptoms) > MaxSymptoms {
		return Result{}, fmt.Errorf("%w: at most %d symptoms may be submitted", ErrInvalidAssessment, MaxSymptoms)
	}
	if a.AssessedAt.IsZero() {
		a.AssessedAt = time.Now().UTC()
	}

	r := s.Classify(a.Symptoms)
	a.apply(r)
	if err := s.assessments.Create(ctx, a); err != nil {
		return Result{}, fmt.Errorf("store assessment: %w", err)
	}
	return r, nil
}

func (s *Service) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return s.assessments.GetByID(ctx, id)
}

func (s *Service) DeleteAssessment(ctx context.Context, id uuid.UUID) error {
	return s.assessments.Delete(ctx, id)
}

func (s *Service) ListAssessments(ctx context.Context, limit, offset int) ([]*Assessment, int, error) {
	return s.assessments.List(ctx, limit, offset)
}

func (s *Service) ListAssessmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return s.assessments.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) SearchAssessments(ctx context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error) {
	if lvl, ok := params["risk_level"]; ok && !RiskLevel(lvl).Valid() {
		return nil, 0, fmt.Errorf("%w: unknown risk_level %q", ErrInvalidAssessment, lvl)
	}
	return s.assessments.Search(ctx, params, limit, offset)
}

// Summary returns the number of stored assessments per risk level.
func (s *Service) Summary(ctx context.Context) (map[RiskLevel]int, error) {
	return s.assessments.CountByLevel(ctx)
}

// Reclassify re-runs stored assessments through the current reference table
// and persists any change in score or level. With no ids every stored
// assessment is processed. Store reads and writes are sequential because a
// request-scoped connection cannot be shared; only classification fans out.
func (s *Service) Reclassify(ctx context.Context, ids []uuid.UUID) ([]ReclassifyOutcome, error) {
	var (
		targets  []*Assessment
		outcomes []ReclassifyOutcome
	)

	if len(ids) == 0 {
		for offset := 0; ; offset += reclassifyPageSize {
			page, total, err := s.assessments.List(ctx, reclassifyPageSize, offset)
			if err != nil {
				return nil, fmt.Errorf("list assessments: %w", err)
			}
			targets = append(targets, page...)
			if len(page) == 0 || offset+len(page) >= total {
				break
			}
		}
	} else {
		for _, id := range ids {
			a, err := s.assessments.GetByID(ctx, id)
			if err != nil {
				outcomes = append(outcomes, ReclassifyOutcome{ID: id, Error: err.Error()})
				continue
			}
			targets = append(targets, a)
		}
	}

	inputs := make([][]SymptomID, len(targets))
	for i, a := range targets {
		inputs[i] = a.Symptoms
	}
	results, err := s.classifier.ClassifyAll(ctx, inputs, reclassifyWorkers)
	if err != nil {
		return nil, err
	}

	for i, a := range targets {
		r := results[i]
		out := ReclassifyOutcome{
			ID:            a.ID,
			PreviousLevel: a.RiskLevel,
			PreviousScore: a.Score,
			Level:         r.Level,
			Score:         r.Score,
		}
		out.Changed = a.RiskLevel != r.Level || a.Score != r.Score ||
			!sameIDs(a.CriticalMatch, r.CriticalMatch) || !sameIDs(a.UnknownSymptoms, r.UnknownSymptoms())
		if out.Changed {
			a.apply(r)
			if err := s.assessments.UpdateClassification(ctx, a); err != nil {
				out.Error = err.Error()
			}
		}
		s.metrics.observeReclassify(out.Changed)
		outcomes = append(outcomes, out)
	}

	s.logger.Info().Int("processed", len(outcomes)).Msg("reclassification finished")
	return outcomes, nil
}

func sameIDs(a, b []SymptomID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
