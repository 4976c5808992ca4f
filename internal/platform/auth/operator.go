package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/cargodesk/api/internal/platform/httpx"
	"github.com/cargodesk/api/internal/platform/requestctx"
)

// IAPAssertionHeader carries the signed assertion when the console sits behind Identity-Aware Proxy.
const IAPAssertionHeader = "X-Goog-Iap-Jwt-Assertion"

// OperatorAuthConfig describes which tokens identify a console operator.
type OperatorAuthConfig struct {
	Audience       string
	Issuers        []string
	AllowedDomains []string
}

// VerificationRecorder receives one call per verified or rejected request.
type VerificationRecorder func(ctx context.Context, kind string, success bool, reason string, d time.Duration)

// OperatorAuthenticator verifies Google-signed operator tokens and stamps the operator on the
// request context.
type OperatorAuthenticator struct {
	keys     *KeySet
	audience string
	issuers  map[string]struct{}
	domains  map[string]struct{}
	record   VerificationRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// OperatorAuthOption customises the authenticator.
type OperatorAuthOption func(*OperatorAuthenticator)

// WithVerificationRecorder reports verification outcomes, typically to a metrics backend.
func WithVerificationRecorder(record VerificationRecorder) OperatorAuthOption {
	return func(a *OperatorAuthenticator) {
		a.record = record
	}
}

// WithOperatorAuthLogger sets the logger used for rejected tokens.
func WithOperatorAuthLogger(logger *zap.Logger) OperatorAuthOption {
	return func(a *OperatorAuthenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithOperatorAuthClock injects a custom clock.
func WithOperatorAuthClock(now func() time.Time) OperatorAuthOption {
	return func(a *OperatorAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewOperatorAuthenticator builds an authenticator over the given key set.
func NewOperatorAuthenticator(keys *KeySet, cfg OperatorAuthConfig, opts ...OperatorAuthOption) (*OperatorAuthenticator, error) {
	if keys == nil {
		return nil, errors.New("auth: key set is required")
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errors.New("auth: audience is required")
	}
	a := &OperatorAuthenticator{
		keys:     keys,
		audience: audience,
		issuers:  toSet(cfg.Issuers, false),
		domains:  toSet(cfg.AllowedDomains, true),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Middleware rejects requests without a valid operator token.
func (a *OperatorAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := a.now()

		operator, reason, err := a.verify(ctx, r)
		if err != nil {
			a.observe(ctx, false, reason, start)
			a.logger.Info("operator token rejected",
				zap.String("reason", reason),
				zap.Error(err),
			)
			if reason == "jwks_unavailable" {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "operator verification unavailable", http.StatusServiceUnavailable))
				return
			}
			code := "invalid_token"
			if reason == "token_missing" {
				code = "unauthenticated"
			}
			httpx.WriteError(ctx, w, httpx.NewError(code, "operator authentication failed", http.StatusUnauthorized))
			return
		}

		a.observe(ctx, true, "ok", start)
		next.ServeHTTP(w, r.WithContext(requestctx.WithOperator(ctx, operator)))
	})
}

func (a *OperatorAuthenticator) verify(ctx context.Context, r *http.Request) (string, string, error) {
	raw := extractToken(r)
	if raw == "" {
		return "", "token_missing", errors.New("token missing")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, a.keys.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return "", "jwks_unavailable", err
		}
		return "", "token_invalid", err
	}

	issuer, _ := claims["iss"].(string)
	if len(a.issuers) > 0 {
		if _, ok := a.issuers[issuer]; !ok {
			return "", "issuer_mismatch", errors.New("unexpected issuer " + issuer)
		}
	}
	if !claims.VerifyAudience(a.audience, true) {
		return "", "audience_mismatch", errors.New("unexpected audience")
	}

	email, _ := claims["email"].(string)
	email = strings.ToLower(strings.TrimSpace(email))
	if len(a.domains) > 0 {
		_, domain, _ := strings.Cut(email, "@")
		if _, ok := a.domains[domain]; !ok {
			return "", "domain_not_allowed", errors.New("email domain not allowed")
		}
	}

	if email != "" {
		return email, "ok", nil
	}
	subject, _ := claims["sub"].(string)
	if subject = strings.TrimSpace(subject); subject == "" {
		return "", "token_invalid", errors.New("token has no subject")
	}
	return subject, "ok", nil
}

func (a *OperatorAuthenticator) observe(ctx context.Context, success bool, reason string, start time.Time) {
	if a.record == nil {
		return
	}
	a.record(ctx, "operator", success, reason, a.now().Sub(start))
}

func extractToken(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	return strings.TrimSpace(r.Header.Get(IAPAssertionHeader))
}

func toSet(values []string, lower bool) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if lower {
			value = strings.ToLower(value)
		}
		if value != "" {
			out[value] = struct{}{}
		}
	}
	return out
}
