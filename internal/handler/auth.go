package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/logger"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
	"github.com/pesio-ai/be-risk-exceptions/internal/service"
)

// Claims are the access token claims issued by the identity platform.
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	Admin bool     `json:"admin"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens and turns them into identities.
type Authenticator struct {
	signingKey []byte
	log        *logger.Logger
}

// NewAuthenticator creates an Authenticator for the given signing key.
func NewAuthenticator(signingKey string, log *logger.Logger) *Authenticator {
	return &Authenticator{signingKey: []byte(signingKey), log: log}
}

type identityKey struct{}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(ctx context.Context) (service.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(service.Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			writeStatusError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "missing bearer token")
			return
		}

		identity, err := a.Verify(token)
		if err != nil {
			writeStatusError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

// Verify parses token and returns the caller's identity. Roles the service
// does not know are dropped.
func (a *Authenticator) Verify(token string) (service.Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.signingKey, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return service.Identity{}, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return service.Identity{}, errors.New(errors.ErrCodeUnauthorized, "invalid token")
	}

	identity := service.Identity{
		ActorID: claims.Subject,
		Email:   claims.Email,
		Admin:   claims.Admin,
	}
	for _, raw := range claims.Roles {
		role, err := policy.ParseApproverRole(raw)
		if err != nil {
			a.log.Debug().Str("actor_id", claims.Subject).Str("role", raw).Msg("Ignoring unknown role claim")
			continue
		}
		identity.GrantedRoles = append(identity.GrantedRoles, role)
	}
	return identity, nil
}

// Sign issues a token for identity. Used by tooling and tests.
func (a *Authenticator) Sign(identity service.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	roles := make([]string, len(identity.GrantedRoles))
	for i, r := range identity.GrantedRoles {
		roles[i] = string(r)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: identity.Email,
		Roles: roles,
		Admin: identity.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(a.signingKey)
}
