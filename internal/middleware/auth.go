package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gofiber/fiber/v3"
)

// ErrUnauthorized is returned by verifiers for a missing or bad token.
var ErrUnauthorized = errors.New("unauthorized")

// TokenVerifier checks a bearer token presented by a batch trigger.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier accepts ID tokens from issuer whose audience includes
// audience, such as those minted by a cloud scheduler for its service account.
func NewOIDCVerifier(ctx context.Context, issuer, audience string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	return &oidcVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: audience})}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, token string) error {
	if _, err := v.verifier.Verify(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

type secretVerifier struct {
	secret []byte
}

// NewSecretVerifier accepts exactly the shared secret.
func NewSecretVerifier(secret string) TokenVerifier {
	return &secretVerifier{secret: []byte(secret)}
}

func (v *secretVerifier) Verify(_ context.Context, token string) error {
	if subtle.ConstantTimeCompare([]byte(token), v.secret) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// CronAuth guards batch entry points with a bearer token.
type CronAuth struct {
	verifier TokenVerifier
}

// NewCronAuth creates the middleware. A nil verifier leaves routes open,
// which is only meant for local development.
func NewCronAuth(verifier TokenVerifier) *CronAuth {
	if verifier == nil {
		slog.Warn("batch endpoints are not authenticated; set OIDC_ISSUER or CRON_SECRET")
	}
	return &CronAuth{verifier: verifier}
}

// Require rejects requests without a valid bearer token.
func (m *CronAuth) Require(c fiber.Ctx) error {
	if m.verifier == nil {
		return c.Next()
	}

	token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return unauthorized(c)
	}
	if err := m.verifier.Verify(c.Context(), token); err != nil {
		slog.Warn("batch trigger rejected", "path", c.Path(), "error", err)
		return unauthorized(c)
	}
	return c.Next()
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"status": "error",
		"error":  "unauthorized",
	})
}
