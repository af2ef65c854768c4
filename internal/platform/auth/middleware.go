package auth

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/orderledger/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "roles"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer ID tokens into an Identity on the request context.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithRoleClaim changes the claim holding roles.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator wraps verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireRoles admits requests carrying a valid ID token whose roles include at least one of
// roles. Missing or bad tokens get 401; a valid token without the role gets 403.
func (a *Authenticator) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication unavailable", http.StatusUnauthorized))
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			token, err := a.verifier.VerifyIDToken(verifyCtx, raw)
			cancel()
			if err != nil {
				code := "invalid_token"
				if firebaseauth.IsIDTokenExpired(err) {
					code = "token_expired"
				}
				httpx.WriteError(ctx, w, httpx.NewError(code, "id token verification failed", http.StatusUnauthorized))
				return
			}

			email, _ := token.Claims["email"].(string)
			identity := &Identity{
				UID:   token.UID,
				Email: strings.TrimSpace(email),
				Roles: rolesFromClaims(token.Claims, a.roleClaim),
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have a required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// rolesFromClaims accepts a string, a list of strings, or boolean flags. Flags may sit under the
// role claim as a map or at the top level ({"staff": true}).
func rolesFromClaims(claims map[string]any, key string) []string {
	seen := map[string]struct{}{}
	add := func(role string) {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			seen[role] = struct{}{}
		}
	}

	switch v := claims[key].(type) {
	case string:
		add(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	case map[string]any:
		for name, flag := range v {
			if b, ok := flag.(bool); ok && b {
				add(name)
			}
		}
	}
	for _, role := range []string{RoleStaff, RoleAdmin} {
		if b, ok := claims[role].(bool); ok && b {
			add(role)
		}
	}

	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
