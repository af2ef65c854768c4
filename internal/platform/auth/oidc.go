package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/platform/httpx"
)

const iapAssertionHeader = "X-Goog-Iap-Jwt-Assertion"

// ServiceIdentity is the verified caller of an internal route.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

type serviceIdentityKey struct{}

// WithServiceIdentity stores identity on ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator checks Google-signed ID tokens (Cloud Scheduler, Cloud Tasks, IAP) on the
// /internal route group.
type OIDCValidator struct {
	keys     *JWKSCache
	logger   *zap.Logger
	outcomes metric.Int64Counter
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger sets the logger for rejected tokens.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMeter records verification outcomes on meter instead of the global provider.
func WithOIDCMeter(meter metric.Meter) OIDCOption {
	return func(v *OIDCValidator) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("auth.oidc.verifications",
			metric.WithDescription("OIDC token verifications by outcome")); err == nil {
			v.outcomes = counter
		}
	}
}

// NewOIDCValidator builds a validator over keys.
func NewOIDCValidator(keys *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{keys: keys, logger: zap.NewNop()}
	WithOIDCMeter(otel.Meter("github.com/hanko-field/orderledger/internal/platform/auth"))(v)
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequireOIDC admits requests whose bearer (or IAP assertion) token is RS256-signed by a
// trusted issuer for audience.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	trusted := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			trusted[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(status int, code, reason string, err error) {
				v.observe(ctx, reason)
				v.logger.Warn("oidc token rejected", zap.String("reason", reason), zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError(code, "service token verification failed", status))
			}

			if audience == "" || v.keys == nil {
				reject(http.StatusServiceUnavailable, "verification_unavailable", "not_configured", nil)
				return
			}
			raw := serviceToken(r)
			if raw == "" {
				reject(http.StatusUnauthorized, "unauthenticated", "token_missing", nil)
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(raw, claims, v.keys.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					reject(http.StatusServiceUnavailable, "verification_unavailable", "jwks_unavailable", err)
					return
				}
				reject(http.StatusUnauthorized, "invalid_token", "token_invalid", err)
				return
			}

			issuer, _ := claims["iss"].(string)
			if _, ok := trusted[issuer]; len(trusted) > 0 && !ok {
				reject(http.StatusUnauthorized, "invalid_token", "issuer_mismatch", nil)
				return
			}
			if !claims.VerifyAudience(audience, true) {
				reject(http.StatusUnauthorized, "invalid_token", "audience_mismatch", nil)
				return
			}

			subject, _ := claims["sub"].(string)
			email, _ := claims["email"].(string)
			v.observe(ctx, "ok")
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, &ServiceIdentity{
				Subject:  subject,
				Email:    email,
				Issuer:   issuer,
				Audience: audience,
			})))
		})
	}
}

func (v *OIDCValidator) observe(ctx context.Context, outcome string) {
	if v.outcomes != nil {
		v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func serviceToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.Header.Get(iapAssertionHeader))
}
