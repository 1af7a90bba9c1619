package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerAddr != ":3000" {
		t.Errorf("ServerAddr = %q, want :3000", cfg.ServerAddr)
	}
	if cfg.SchedulerInterval != 0 {
		t.Errorf("SchedulerInterval = %v, want 0 (disabled)", cfg.SchedulerInterval)
	}
	if cfg.SchedulerBudget != 55*time.Second {
		t.Errorf("SchedulerBudget = %v, want 55s", cfg.SchedulerBudget)
	}
	if cfg.CandidateLimit != 60 || cfg.TopicMinSize != 3 {
		t.Errorf("CandidateLimit = %d TopicMinSize = %d, want 60 and 3", cfg.CandidateLimit, cfg.TopicMinSize)
	}
	if !cfg.IsDev() {
		t.Error("IsDev() = false, want true by default")
	}
	if cfg.LLMConfigured() {
		t.Error("LLMConfigured() = true without credentials")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "5m")
	t.Setenv("SCHEDULER_WORKERS", "3")
	t.Setenv("LLM_SCOPES", "llm.read, llm.write ,")
	t.Setenv("EXCLUDED_LOCATIONS", "a,b")
	t.Setenv("LLM_TOKEN_URL", "https://idp.example.com/token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SchedulerInterval != 5*time.Minute {
		t.Errorf("SchedulerInterval = %v, want 5m", cfg.SchedulerInterval)
	}
	if cfg.SchedulerWorkers != 3 {
		t.Errorf("SchedulerWorkers = %d, want 3", cfg.SchedulerWorkers)
	}
	if len(cfg.LLMScopes) != 2 || cfg.LLMScopes[1] != "llm.write" {
		t.Errorf("LLMScopes = %q", cfg.LLMScopes)
	}
	if len(cfg.ExcludedLocationIDs) != 2 {
		t.Errorf("ExcludedLocationIDs = %q", cfg.ExcludedLocationIDs)
	}
	if !cfg.LLMConfigured() {
		t.Error("LLMConfigured() = false with a token URL")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("SCHEDULER_BUDGET", "soon")
	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want invalid duration error")
	}
}

const sampleYAML = `
locations:
  - id: 6f1c1f0a-2f4e-4a51-9b7c-1d2b3c4d5e6f
    name: Demo
    exclude: true
  - id: 0b9a8c7d-1111-2222-3333-444455556666
normalizer:
  candidate_limit: 40
  classify_timeout: 10s
scheduler:
  page_size: 25
  budget: 2m
topics:
  min_topic_size: 5
`

func TestApplyYAML(t *testing.T) {
	y, err := ParseYAMLConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseYAMLConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.ApplyYAML(y)

	if cfg.CandidateLimit != 40 || cfg.ClassifyTimeout != 10*time.Second {
		t.Errorf("normalizer = %d/%v, want 40/10s", cfg.CandidateLimit, cfg.ClassifyTimeout)
	}
	if cfg.SchedulerPageSize != 25 || cfg.SchedulerBudget != 2*time.Minute {
		t.Errorf("scheduler = %d/%v, want 25/2m", cfg.SchedulerPageSize, cfg.SchedulerBudget)
	}
	if cfg.SchedulerMaxPages != 50 {
		t.Errorf("SchedulerMaxPages = %d, want env default 50", cfg.SchedulerMaxPages)
	}
	if cfg.TopicMinSize != 5 {
		t.Errorf("TopicMinSize = %d, want 5", cfg.TopicMinSize)
	}
	if len(cfg.ExcludedLocationIDs) != 1 || cfg.ExcludedLocationIDs[0] != "6f1c1f0a-2f4e-4a51-9b7c-1d2b3c4d5e6f" {
		t.Errorf("ExcludedLocationIDs = %q", cfg.ExcludedLocationIDs)
	}

	// A nil file is a no-op.
	cfg.ApplyYAML(nil)
}

func TestLoadYAMLConfig_Missing(t *testing.T) {
	y, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || y != nil {
		t.Errorf("LoadYAMLConfig(missing) = %v, %v; want nil, nil", y, err)
	}
}

func TestLoadYAMLConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	y, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig() error = %v", err)
	}
	if len(y.Locations) != 2 || y.Locations[0].Name != "Demo" {
		t.Errorf("Locations = %+v", y.Locations)
	}

	if err := os.WriteFile(path, []byte("locations: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadYAMLConfig(path); err == nil {
		t.Error("LoadYAMLConfig(broken) error = nil")
	}
}
