package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/model"
)

// Headers stamped by the upstream authenticator and payment verifier.
const (
	HeaderPrincipalID    = "X-Principal-ID"
	HeaderPrincipalRoles = "X-Principal-Roles"
	HeaderPaymentAmount  = "X-Payment-Amount"
)

// Principals attaches the authenticated principal from the request headers
// to the request context. Requests without an ID carry the zero principal
// and fail any operation that needs an identity.
func Principals(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.Principal{
			ID:    r.Header.Get(HeaderPrincipalID),
			Roles: auth.ParseRoles(r.Header.Get(HeaderPrincipalRoles)),
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// AccessGate decides whether a paid read may proceed.
type AccessGate interface {
	Allow(r *http.Request) (bool, error)
}

// AllowAll grants every request.
type AllowAll struct{}

func (AllowAll) Allow(*http.Request) (bool, error) { return true, nil }

// ConfigSource supplies the current protocol config.
type ConfigSource interface {
	Get(ctx context.Context) (*model.ProtocolConfig, error)
}

// MinPaymentGate grants access when the verified payment amount meets the
// protocol's minimum payment.
type MinPaymentGate struct {
	Config ConfigSource
}

func (g MinPaymentGate) Allow(r *http.Request) (bool, error) {
	raw := r.Header.Get(HeaderPaymentAmount)
	if raw == "" {
		return false, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return false, nil
	}
	cfg, err := g.Config.Get(r.Context())
	if err != nil {
		return false, err
	}
	return amount.GreaterThanOrEqual(cfg.MinPayment), nil
}

// gated rejects requests the access gate does not allow with 402.
func (s *Service) gated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.gate.Allow(r)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if !ok {
			writeError(w, "payment required", http.StatusPaymentRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}
