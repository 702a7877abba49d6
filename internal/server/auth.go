package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"gapforets/internal/domain"
	"gapforets/internal/engine"
	"gapforets/internal/engine/auth"
	"gapforets/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	Logger                 *log.Logger
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Caller auth.Caller
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Caller.ID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func callerFromContext(ctx context.Context) (auth.Caller, huma.StatusError) {
	p, err := principalFromRequest(ctx)
	if err != nil {
		return auth.Caller{}, err
	}
	return p.Caller, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Territory string `json:"territory,omitempty"`
}

// SignToken mints an HS256 token carrying the caller's role and profile.
func SignToken(secret string, c auth.Caller, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  c.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role:      string(c.Role),
		Name:      c.Name,
		Email:     c.Email,
		Territory: c.Territory,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(ctx context.Context, token, secret string, actors auth.Service) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	if claims.Role == "" {
		// no role claim: the directory decides
		c, err := actors.Caller(ctx, claims.Subject)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Caller: c, Source: "jwt"}, nil
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return Principal{}, auth.InvalidRoleError{Role: claims.Role}
	}
	return Principal{
		Caller: auth.Caller{ID: claims.Subject, Name: claims.Name, Email: claims.Email, Role: role, Territory: claims.Territory},
		Source: "jwt",
	}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, actors auth.Service, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if apiKey.ActorID == "" {
		return Principal{}, errors.New("api key missing actor")
	}
	c, err := actors.Caller(ctx, apiKey.ActorID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Caller: c, Source: "api_key"}, nil
}

// authenticateLegacy trusts X-Actor-Id. The role comes from the directory,
// else from X-Role.
func authenticateLegacy(ctx context.Context, actors auth.Service, actorID, roleHeader string) (Principal, error) {
	c, err := actors.Caller(ctx, actorID)
	if err == nil {
		return Principal{Caller: c, Source: "legacy_header"}, nil
	}
	if !errors.Is(err, auth.ErrUnknownActor) {
		return Principal{}, err
	}
	role, ok := domain.ParseRole(roleHeader)
	if !ok {
		return Principal{}, auth.InvalidRoleError{Role: roleHeader}
	}
	return Principal{Caller: auth.Caller{ID: actorID, Role: role}, Source: "legacy_header"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath || req.URL.Path == devLoginPath || req.URL.Path == path.Join(basePath, "openapi.json") {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			legacyActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			var (
				principal Principal
				err       error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err = authenticateJWT(req.Context(), token, cfg.JWTSecret, e.Actors)
			case apiKeyHeader != "":
				principal, err = authenticateAPIKey(req.Context(), e.Repo, e.Actors, apiKeyHeader)
			case legacyActor != "" && cfg.AllowLegacyActorHeader:
				cfg.logger().Printf("WARNING: using legacy X-Actor-Id header without auth; this path is deprecated and ignored when Authorization or X-Api-Key is present (actor_id=%s)", legacyActor)
				principal, err = authenticateLegacy(req.Context(), e.Actors, legacyActor, req.Header.Get("X-Role"))
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
				var roleErr auth.InvalidRoleError
				if errors.As(err, &roleErr) {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_role", err.Error(), map[string]any{"role": roleErr.Role}))
					return
				}
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
