package triage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("triage assessment not found")
	ErrInvalidAssessment = errors.New("invalid triage assessment")
)

type AssessmentRepository interface {
	Create(ctx context.Context, a *Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Assessment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error)
	// UpdateClassification overwrites only the derived classification fields.
	UpdateClassification(ctx context.Context, a *Assessment) error
	CountByLevel(ctx context.Context) (map[RiskLevel]int, error)
}
