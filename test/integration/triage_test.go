//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/cholera-ops/triage/internal/domain/triage"
	"github.com/cholera-ops/triage/internal/platform/db"
	"github.com/cholera-ops/triage/migrations"
)

func TestMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	tenantID := createTenant(t, "mig")

	n, err := db.CreateTenantSchema(ctx, testPool, tenantID, migrations.FS)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations, applied %d", n)
	}

	status, err := db.NewMigrator(testPool, migrations.FS).Status(ctx, db.SchemaFor(tenantID))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("migration %d not applied", s.Version)
		}
	}
}

func TestAssessmentRepo_RoundTrip(t *testing.T) {
	tenantID := createTenant(t, "repo")
	svc := newService(t, defaultTable(t))
	stored := assess(t, svc, tenantID, symptomIDs("diarreia_aquosa", "vomito", "desidratacao", "nao_existe"))[0]

	err := db.WithTenant(context.Background(), testPool, tenantID, func(ctx context.Context) error {
		got, err := svc.GetAssessment(ctx, stored.ID)
		if err != nil {
			return err
		}
		if got.RiskLevel != triage.LevelHigh || got.Score != 8 {
			t.Errorf("expected alto_risco/8, got %s/%d", got.RiskLevel, got.Score)
		}
		if len(got.CriticalMatch) != 3 {
			t.Errorf("expected critical match to be stored, got %v", got.CriticalMatch)
		}
		if len(got.UnknownSymptoms) != 1 || got.UnknownSymptoms[0] != "nao_existe" {
			t.Errorf("expected unknown symptom stored, got %v", got.UnknownSymptoms)
		}
		if !got.AssessedAt.Equal(stored.AssessedAt) {
			t.Errorf("assessed_at changed: %v vs %v", got.AssessedAt, stored.AssessedAt)
		}

		if err := svc.DeleteAssessment(ctx, stored.ID); err != nil {
			return err
		}
		if _, err := svc.GetAssessment(ctx, stored.ID); !errors.Is(err, triage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := svc.DeleteAssessment(ctx, stored.ID); !errors.Is(err, triage.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAssessmentRepo_SearchAndSummary(t *testing.T) {
	tenantID := createTenant(t, "search")
	svc := newService(t, defaultTable(t))
	seeded := assess(t, svc, tenantID,
		symptomIDs("febre"),
		symptomIDs("febre", "fraqueza"),
		symptomIDs("pulso_fraco", "letargia"),
		symptomIDs("diarreia_aquosa", "caimbras_musculares"),
	)

	err := db.WithTenant(context.Background(), testPool, tenantID, func(ctx context.Context) error {
		low, total, err := svc.SearchAssessments(ctx, map[string]string{"risk_level": "baixo_risco"}, 1, 0)
		if err != nil {
			return err
		}
		if total != 2 || len(low) != 1 {
			t.Errorf("expected page of 1 out of 2 low assessments, got %d of %d", len(low), total)
		}
		// newest first
		if low[0].ID != seeded[1].ID {
			t.Errorf("expected most recent low assessment first")
		}

		byPatient, total, err := svc.ListAssessmentsByPatient(ctx, seeded[2].PatientID, 10, 0)
		if err != nil {
			return err
		}
		if total != 1 || byPatient[0].ID != seeded[2].ID {
			t.Errorf("unexpected patient listing: %d items", total)
		}

		counts, err := svc.Summary(ctx)
		if err != nil {
			return err
		}
		want := map[triage.RiskLevel]int{triage.LevelHigh: 1, triage.LevelMedium: 1, triage.LevelLow: 2}
		for lvl, n := range want {
			if counts[lvl] != n {
				t.Errorf("summary[%s] = %d, want %d", lvl, counts[lvl], n)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReclassify_PersistsChanges(t *testing.T) {
	tenantID := createTenant(t, "reclass")
	seeded := assess(t, newService(t, defaultTable(t)), tenantID,
		symptomIDs("febre"),
		symptomIDs("febre", "sede_intensa", "fraqueza", "olhos_fundos"),
		symptomIDs("pulso_fraco", "letargia"),
	)

	table := defaultTable(t)
	table.Symptoms["febre"] = triage.Symptom{Label: "Febre", Weight: 5}
	svc := newService(t, table)

	err := db.WithTenant(context.Background(), testPool, tenantID, func(ctx context.Context) error {
		outcomes, err := svc.Reclassify(ctx, nil)
		if err != nil {
			return err
		}
		if len(outcomes) != 3 {
			t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
		}
		changed := map[uuid.UUID]triage.ReclassifyOutcome{}
		for _, o := range outcomes {
			if o.Error != "" {
				t.Errorf("outcome %s: %s", o.ID, o.Error)
			}
			if o.Changed {
				changed[o.ID] = o
			}
		}
		if len(changed) != 2 {
			t.Errorf("expected the two fever assessments to change, got %d", len(changed))
		}

		got, err := svc.GetAssessment(ctx, seeded[1].ID)
		if err != nil {
			return err
		}
		if got.Score != 9 || got.RiskLevel != triage.LevelHigh {
			t.Errorf("expected stored alto_risco/9 after reclassify, got %s/%d", got.RiskLevel, got.Score)
		}

		again, err := svc.Reclassify(ctx, []uuid.UUID{seeded[0].ID, uuid.New()})
		if err != nil {
			return err
		}
		if len(again) != 2 {
			t.Fatalf("expected 2 outcomes, got %d", len(again))
		}
		var missing int
		for _, o := range again {
			if o.Changed {
				t.Errorf("second pass must be a no-op, %s changed", o.ID)
			}
			if o.Error != "" {
				missing++
			}
		}
		if missing != 1 {
			t.Errorf("expected one not-found outcome, got %d", missing)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
