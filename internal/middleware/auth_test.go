package middleware

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gofiber/fiber/v3"
)

func newApp(auth *CronAuth) *fiber.App {
	app := fiber.New()
	app.Post("/run", auth.Require, func(c fiber.Ctx) error {
		return c.SendString("ran")
	})
	return app
}

func status(t *testing.T, app *fiber.App, header string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/run", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp.StatusCode
}

func TestCronAuth_Secret(t *testing.T) {
	app := newApp(NewCronAuth(NewSecretVerifier("s3cret")))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer s3cret", 200},
		{"case-insensitive scheme", "bearer s3cret", 200},
		{"wrong secret", "Bearer nope", 401},
		{"missing header", "", 401},
		{"basic scheme", "Basic s3cret", 401},
		{"empty token", "Bearer ", 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status(t, app, tt.header); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCronAuth_Open(t *testing.T) {
	app := newApp(NewCronAuth(nil))
	if got := status(t, app, ""); got != 200 {
		t.Errorf("status = %d, want 200 without a verifier", got)
	}
}

const (
	testIssuer   = "https://accounts.example.com"
	testAudience = "https://conceptnorm.example.com"
)

func signToken(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	signing := enc(map[string]string{"alg": "RS256", "typ": "JWT"}) + "." + enc(claims)
	sum := sha256.Sum256([]byte(signing))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	if err != nil {
		t.Fatal(err)
	}
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestCronAuth_OIDC(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	verifier := &oidcVerifier{verifier: oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testAudience})}
	app := newApp(NewCronAuth(verifier))

	claims := func(aud string, exp time.Time) map[string]any {
		return map[string]any{
			"iss": testIssuer,
			"aud": aud,
			"sub": "scheduler@example.iam",
			"iat": time.Now().Add(-time.Minute).Unix(),
			"exp": exp.Unix(),
		}
	}
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"valid", signToken(t, key, claims(testAudience, future)), 200},
		{"wrong audience", signToken(t, key, claims("someone-else", future)), 401},
		{"expired", signToken(t, key, claims(testAudience, time.Now().Add(-time.Hour))), 401},
		{"unknown key", signToken(t, other, claims(testAudience, future)), 401},
		{"garbage", "not.a.jwt", 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status(t, app, "Bearer "+tt.token); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}
