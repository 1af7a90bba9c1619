package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"conceptnorm/internal/config"
	"conceptnorm/internal/jobs"
	"conceptnorm/internal/middleware"
	"conceptnorm/internal/normalize"
	"conceptnorm/internal/pairing"
	"conceptnorm/internal/testutil"
	"conceptnorm/internal/topics"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type noopRunner struct{}

func (noopRunner) Run(context.Context, *uuid.UUID, int) (normalize.Result, error) {
	return normalize.Result{}, nil
}

type noopBacklog struct{}

func (noopBacklog) Run(context.Context) (jobs.Summary, error) { return jobs.Summary{}, nil }

func newTestServer(t *testing.T, cfg *config.Config, verifier middleware.TokenVerifier) *Server {
	t.Helper()
	store := testutil.NewMemStore()
	s := New(cfg)
	s.RegisterRoutes(Services{
		DB:       okPinger{},
		Entities: noopRunner{},
		Aspects:  noopRunner{},
		Pairs:    pairing.NewAggregator(store),
		Topics:   topics.New(store, nil, nil, topics.Options{}),
		Backlog:  noopBacklog{},
		Verifier: verifier,
	})
	return s
}

func send(t *testing.T, s *Server, method, target, token string) (int, string) {
	t.Helper()
	req, _ := http.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, target, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRoutes_AuthAndProbes(t *testing.T) {
	s := newTestServer(t, &config.Config{RateLimitMax: 100, RateLimitEvery: time.Minute}, middleware.NewSecretVerifier("cron"))

	if code, _ := send(t, s, "GET", "/healthz", ""); code != 200 {
		t.Errorf("/healthz status = %d, want 200", code)
	}
	code, body := send(t, s, "GET", "/metrics", "")
	if code != 200 || !strings.Contains(body, "go_goroutines") {
		t.Errorf("/metrics status = %d, want 200 with Go collector output", code)
	}

	if code, _ := send(t, s, "POST", "/api/v1/backlog/run", ""); code != 401 {
		t.Errorf("unauthenticated backlog status = %d, want 401", code)
	}
	if code, _ := send(t, s, "POST", "/api/v1/backlog/run", "cron"); code != 200 {
		t.Errorf("authenticated backlog status = %d, want 200", code)
	}
	loc := uuid.NewString()
	if code, body := send(t, s, "GET", "/api/v1/locations/"+loc+"/pairs", "cron"); code != 200 || !strings.Contains(body, `"pairs":[]`) {
		t.Errorf("pairs = %d %s", code, body)
	}
	if code, body := send(t, s, "GET", "/api/v1/locations/"+loc+"/topics", "cron"); code != 200 || !strings.Contains(body, `"topics":[]`) {
		t.Errorf("topics = %d %s", code, body)
	}
}

func TestRoutes_NotFoundIsJSON(t *testing.T) {
	s := newTestServer(t, &config.Config{}, nil)
	code, body := send(t, s, "GET", "/nope", "")
	if code != 404 || !strings.Contains(body, `"status":"error"`) {
		t.Errorf("unknown route = %d %s, want JSON 404", code, body)
	}
}

func TestRoutes_RateLimit(t *testing.T) {
	s := newTestServer(t, &config.Config{RateLimitMax: 2, RateLimitEvery: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		if code, _ := send(t, s, "POST", "/api/v1/normalize/aspects", ""); code != 200 {
			t.Fatalf("request %d status = %d, want 200", i+1, code)
		}
	}
	if code, _ := send(t, s, "POST", "/api/v1/normalize/aspects", ""); code != 429 {
		t.Errorf("third request status = %d, want 429", code)
	}
	// Probes are not limited.
	if code, _ := send(t, s, "GET", "/healthz", ""); code != 200 {
		t.Errorf("/healthz after limit status = %d, want 200", code)
	}
}
