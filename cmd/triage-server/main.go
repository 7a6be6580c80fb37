package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cholera-ops/triage/internal/config"
	"github.com/cholera-ops/triage/internal/domain/triage"
	"github.com/cholera-ops/triage/internal/platform/db"
	"github.com/cholera-ops/triage/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "triage-server",
		Short:         "Cholera triage risk classification service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(reclassifyCmd())
	root.AddCommand(configCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

// newLogger returns a JSON logger, or a console logger in development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "triage").Logger()
}

// loadTable reads the reference table from path, or the built-in table when
// path is empty.
func loadTable(path string) (triage.Table, error) {
	if path == "" {
		return triage.DefaultTable()
	}
	return triage.LoadTable(path)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		MinConns:       cfg.DBMinConns,
		ConnectRetries: cfg.DBConnectRetries,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations against a tenant schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if tenant == "" {
				tenant = cfg.DefaultTenant
			}
			count, err := db.CreateTenantSchema(ctx, pool, tenant, migrations.FS)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.\n", count, db.SchemaFor(tenant))
			return nil
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if tenant == "" {
				tenant = cfg.DefaultTenant
			}
			if !db.ValidTenantID(tenant) {
				return fmt.Errorf("invalid tenant identifier: %q", tenant)
			}
			schema := db.SchemaFor(tenant)
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return errors.New("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.CreateTenantSchema(ctx, pool, name, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s ready (%d migration(s) applied).\n", db.SchemaFor(name), count)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (letters, digits and underscores)")

	cmd.AddCommand(createCmd)
	return cmd
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [symptom...]",
		Short: "Classify a symptom set and print the result as JSON",
		Example: "  triage-server classify diarreia_aquosa vomito desidratacao\n" +
			"  triage-server classify --symptom febre --symptom fraqueza --table ./table.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			flagSymptoms, _ := cmd.Flags().GetStringArray("symptom")
			tablePath, _ := cmd.Flags().GetString("table")
			if tablePath == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				tablePath = cfg.TriageTablePath
			}

			table, err := loadTable(tablePath)
			if err != nil {
				return err
			}
			classifier, err := triage.NewClassifier(table)
			if err != nil {
				return err
			}

			var symptoms []triage.SymptomID
			for _, s := range append(flagSymptoms, args...) {
				symptoms = append(symptoms, triage.SymptomID(s))
			}
			if len(symptoms) > triage.MaxSymptoms {
				return fmt.Errorf("at most %d symptoms may be submitted", triage.MaxSymptoms)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(classifier.Classify(symptoms))
		},
	}
	cmd.Flags().StringArray("symptom", nil, "Symptom identifier (repeatable)")
	cmd.Flags().String("table", "", "Reference table YAML (defaults to TRIAGE_TABLE_PATH or the built-in table)")
	return cmd
}

func reclassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclassify",
		Short: "Re-run every stored assessment of a tenant through the current reference table",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			table, err := loadTable(cfg.TriageTablePath)
			if err != nil {
				return err
			}
			classifier, err := triage.NewClassifier(table)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := triage.NewService(classifier, triage.NewAssessmentRepoPG(pool), logger)
			var outcomes []triage.ReclassifyOutcome
			err = db.WithTenant(ctx, pool, tenant, func(ctx context.Context) error {
				var err error
				outcomes, err = svc.Reclassify(ctx, nil)
				return err
			})
			if err != nil {
				return err
			}

			changed, failed := 0, 0
			for _, o := range outcomes {
				if o.Changed {
					changed++
				}
				if o.Error != "" {
					failed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d assessment(s) processed, %d changed, %d failed.\n", len(outcomes), changed, failed)
			if failed > 0 {
				return fmt.Errorf("%d assessment(s) could not be updated", failed)
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a reference table and, with --env, the server environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			tablePath, _ := cmd.Flags().GetString("table")
			checkEnv, _ := cmd.Flags().GetBool("env")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if tablePath == "" {
				tablePath = cfg.TriageTablePath
			}
			return validateConfig(cmd.OutOrStdout(), cfg, tablePath, checkEnv)
		},
	}
	validateCmd.Flags().String("table", "", "Reference table YAML (defaults to TRIAGE_TABLE_PATH or the built-in table)")
	validateCmd.Flags().Bool("env", false, "Also validate the server environment variables")

	cmd.AddCommand(validateCmd)
	return cmd
}

// validateConfig prints every problem found before returning an error.
func validateConfig(w io.Writer, cfg *config.Config, tablePath string, checkEnv bool) error {
	source := tablePath
	if source == "" {
		source = "built-in table"
	}

	failed := false
	table, err := loadTable(tablePath)
	if err != nil {
		failed = true
		var cerr *triage.ConfigurationError
		if errors.As(err, &cerr) {
			fmt.Fprintf(w, "%s: %d problem(s)\n", source, len(cerr.Problems))
			for _, p := range cerr.Problems {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		} else {
			fmt.Fprintf(w, "%s: %v\n", source, err)
		}
	} else {
		fmt.Fprintf(w, "%s: ok (%d symptoms, %d critical combinations, thresholds alto>=%d medio>=%d)\n",
			source, len(table.Symptoms), len(table.CriticalCombinations), table.Thresholds.High, table.Thresholds.Medium)
	}

	if checkEnv {
		if err := cfg.Validate(); err != nil {
			failed = true
			fmt.Fprintf(w, "environment: %v\n", err)
		} else {
			fmt.Fprintln(w, "environment: ok")
		}
	}

	if failed {
		return errors.New("configuration is invalid")
	}
	return nil
}
