package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Retrieval.Limit != 5 || cfg.Retrieval.Threshold != 0.7 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Diarization.MinSpeakers != 1 || cfg.Diarization.MaxSpeakers != 10 {
		t.Errorf("diarization = %+v", cfg.Diarization)
	}
	if cfg.Store.Backend != "memory" || !cfg.Store.FallbackToMemory {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Pipeline.Policy != "best_effort" || cfg.Pipeline.Parallel || cfg.Pipeline.DetailLevel != "all" {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "9100")
	t.Setenv("STORE", "sqlite")
	t.Setenv("PIPELINE_PARALLEL", "true")
	t.Setenv("CONTEXT_THRESHOLD", "0.55")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 || cfg.Store.Backend != "sqlite" || !cfg.Pipeline.Parallel || cfg.Retrieval.Threshold != 0.55 {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.HasValidAPI() {
		t.Error("api key not picked up")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `server:
  port: 8123
store:
  backend: sqlite
  sqlite_path: /tmp/meetings.db
pipeline:
  policy: fail_fast
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8123 || cfg.Store.SQLitePath != "/tmp/meetings.db" || cfg.Pipeline.Policy != "fail_fast" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Retrieval.Limit != 5 {
		t.Errorf("defaults not applied with a file: %+v", cfg.Retrieval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func validConfig() Config {
	return Config{
		Server:      Server{Port: 8000},
		ASR:         ASR{Provider: "mock"},
		Diarization: Diarization{MinSpeakers: 1, MaxSpeakers: 10},
		Store:       Store{Backend: "memory"},
		Retrieval:   Retrieval{Limit: 5, Threshold: 0.7},
		Pipeline:    Pipeline{Policy: "best_effort", DetailLevel: "all"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"asr", func(c *Config) { c.ASR.Provider = "kaldi" }, "unknown ASR provider"},
		{"openai asr without key", func(c *Config) { c.ASR.Provider = "openai" }, "OPENAI_API_KEY"},
		{"speaker bounds", func(c *Config) { c.Diarization.MinSpeakers = 4; c.Diarization.MaxSpeakers = 2 }, "speaker bounds"},
		{"store", func(c *Config) { c.Store.Backend = "redis" }, "unknown store backend"},
		{"pgvector without key", func(c *Config) { c.Store.Backend = "pgvector" }, "embeddings"},
		{"limit", func(c *Config) { c.Retrieval.Limit = 0 }, "retrieval limit"},
		{"threshold", func(c *Config) { c.Retrieval.Threshold = 1.5 }, "retrieval threshold"},
		{"policy", func(c *Config) { c.Pipeline.Policy = "retry" }, "pipeline policy"},
		{"detail", func(c *Config) { c.Pipeline.DetailLevel = "verbose" }, "detail level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	cfg.Server.Port = 0
	cfg.Retrieval.Limit = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "; ") {
		t.Errorf("Validate() = %v, want every problem listed", err)
	}
}

func TestHasValidAPI(t *testing.T) {
	for key, want := range map[string]bool{"": false, "  ": false, "your-api-key-here": false, "sk-123": true} {
		cfg := Config{OpenAI: OpenAI{APIKey: key}}
		if got := cfg.HasValidAPI(); got != want {
			t.Errorf("HasValidAPI(%q) = %v, want %v", key, got, want)
		}
	}
}
