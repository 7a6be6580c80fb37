package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

// Tenant ids become part of a schema name, which postgres caps at 63 bytes.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,48}$`)

// ValidTenantID reports whether id can be used as a tenant identifier.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// SchemaFor returns the schema holding a tenant's assessments.
func SchemaFor(tenantID string) string {
	return "tenant_" + tenantID
}

// TenantMiddleware resolves the tenant for the request, checks out a
// connection whose search_path points at the tenant schema and stores both on
// the request context. The connection is returned to the pool when the
// handler finishes.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)
			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, release, err := acquireTenantConn(ctx, pool, tenantID)
			if err != nil {
				if errors.Is(err, errAcquire) {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
				}
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}
			defer release()

			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

var errAcquire = errors.New("acquire connection")

// acquireTenantConn checks out a connection with its search_path set to the
// tenant schema. release restores the search_path and returns the connection.
func acquireTenantConn(ctx context.Context, pool *pgxpool.Pool, tenantID string) (*pgxpool.Conn, func(), error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errAcquire, err)
	}
	release := func() {
		_, _ = conn.Exec(context.Background(), "RESET search_path")
		conn.Release()
	}

	searchPath := "SET search_path TO " + pgx.Identifier{SchemaFor(tenantID)}.Sanitize() + ", public"
	if _, err := conn.Exec(ctx, searchPath); err != nil {
		release()
		return nil, nil, fmt.Errorf("set search_path: %w", err)
	}
	return conn, release, nil
}

// WithTenant runs fn with a tenant-scoped connection on its context, for
// work that happens outside an HTTP request.
func WithTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %q", tenantID)
	}
	conn, release, err := acquireTenantConn(ctx, pool, tenantID)
	if err != nil {
		return err
	}
	defer release()

	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return fn(ctx)
}

// extractTenantID prefers the token claim, then the X-Tenant-ID header, then
// the tenant_id query parameter.
func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// ConnFromContext returns the tenant-scoped connection, or nil outside a
// tenant request.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates the tenant schema and applies the migrations in
// fsys to it. A nil fsys only creates the schema.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, fsys fs.FS) (int, error) {
	if !ValidTenantID(tenantID) {
		return 0, fmt.Errorf("invalid tenant identifier: %q", tenantID)
	}
	schema := SchemaFor(tenantID)

	if fsys == nil {
		if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
			return 0, fmt.Errorf("create schema %s: %w", schema, err)
		}
		return 0, nil
	}

	n, err := NewMigrator(pool, fsys).Up(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("migrate %s: %w", schema, err)
	}
	return n, nil
}
