package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey is the HS256 shared secret. When it parses as a PEM RSA
	// public key, RS256 tokens are verified against it instead.
	SigningKey []byte
}

func (cfg JWTConfig) keyFunc() (jwt.Keyfunc, []string, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, nil, fmt.Errorf("jwt signing key is empty")
	}
	if strings.HasPrefix(strings.TrimSpace(string(cfg.SigningKey)), "-----BEGIN") {
		pub, err := jwt.ParseRSAPublicKeyFromPEM(cfg.SigningKey)
		if err != nil {
			return nil, nil, fmt.Errorf("parse RSA public key: %w", err)
		}
		return func(*jwt.Token) (interface{}, error) { return pub, nil }, []string{"RS256"}, nil
	}
	key := cfg.SigningKey
	return func(*jwt.Token) (interface{}, error) { return key, nil }, []string{"HS256"}, nil
}

// JWTMiddleware validates bearer tokens and stores the subject and roles on
// the request context. It fails at construction when the key is unusable.
func JWTMiddleware(cfg JWTConfig) (echo.MiddlewareFunc, error) {
	keyFunc, methods, err := cfg.keyFunc()
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			// Read by the tenant middleware.
			c.Set("jwt_tenant_id", claims.TenantID)

			ctx := WithUser(c.Request().Context(), claims.Subject, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}, nil
}

// DevAuthMiddleware is a permissive middleware for development that grants
// admin to unauthenticated requests.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("jwt_tenant_id", "default")
			ctx := WithUser(c.Request().Context(), "dev-user", []string{"admin"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// WithUser returns a copy of ctx carrying the authenticated user.
func WithUser(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
