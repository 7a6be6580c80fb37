package triage

import (
	"time"

	"github.com/google/uuid"
)

// Assessment maps to the triage_assessment table. Score, RiskLevel,
// CriticalMatch and UnknownSymptoms are derived by the classifier and are
// ignored on input.
type Assessment struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	PatientID       uuid.UUID   `db:"patient_id" json:"patient_id"`
	HospitalID      *uuid.UUID  `db:"hospital_id" json:"hospital_id,omitempty"`
	AssessedBy      *string     `db:"assessed_by" json:"assessed_by,omitempty"`
	Symptoms        []SymptomID `db:"symptoms" json:"symptoms"`
	Score           int         `db:"score" json:"score"`
	RiskLevel       RiskLevel   `db:"risk_level" json:"risk_level"`
	CriticalMatch   []SymptomID `db:"critical_match" json:"critical_match,omitempty"`
	UnknownSymptoms []SymptomID `db:"unknown_symptoms" json:"unknown_symptoms,omitempty"`
	Note            *string     `db:"note" json:"note,omitempty"`
	AssessedAt      time.Time   `db:"assessed_at" json:"assessed_at"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// apply copies the derived fields of r onto the assessment.
func (a *Assessment) apply(r Result) {
	a.Score = r.Score
	a.RiskLevel = r.Level
	a.CriticalMatch = append([]SymptomID(nil), r.CriticalMatch...)
	a.UnknownSymptoms = r.UnknownSymptoms()
	if len(a.UnknownSymptoms) == 0 {
		a.UnknownSymptoms = nil
	}
}

// AssessmentResponse is returned when an assessment is created: the stored
// record plus the protocol and warnings of its classification.
type AssessmentResponse struct {
	Assessment *Assessment             `json:"assessment"`
	Protocol   Protocol                `json:"protocol"`
	Warnings   []UnknownSymptomWarning `json:"warnings,omitempty"`
}

// ReclassifyOutcome describes what happened to one stored assessment when it
// was run through the current reference table again.
type ReclassifyOutcome struct {
	ID            uuid.UUID `json:"id"`
	PreviousLevel RiskLevel `json:"previous_level,omitempty"`
	PreviousScore int       `json:"previous_score"`
	Level         RiskLevel `json:"level,omitempty"`
	Score         int       `json:"score"`
	Changed       bool      `json:"changed"`
	Error         string    `json:"error,omitempty"`
}
