package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "deepresearch" {
		t.Errorf("expected Name=deepresearch, got %s", cfg.Name)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected Provider=openai, got %s", cfg.LLM.Provider)
	}
	if cfg.Discovery.BucketCap != 3 {
		t.Errorf("expected BucketCap=3, got %d", cfg.Discovery.BucketCap)
	}
	if cfg.Discovery.Mode != DiscoveryModeRules {
		t.Errorf("expected Mode=rules, got %s", cfg.Discovery.Mode)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("DEEPRESEARCH_LLM_MODEL", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "gemini"
	cfg.LLM.APIKey = "g-test"
	cfg.Discovery.BucketCap = 5

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != "gemini" {
		t.Errorf("expected Provider=gemini, got %s", loaded.LLM.Provider)
	}
	if loaded.LLM.APIKey != "g-test" {
		t.Errorf("expected APIKey=g-test, got %s", loaded.LLM.APIKey)
	}
	if loaded.Discovery.BucketCap != 5 {
		t.Errorf("expected BucketCap=5, got %d", loaded.Discovery.BucketCap)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Discovery.MaxSearchQueries != 5 {
		t.Errorf("expected defaults, got MaxSearchQueries=%d", cfg.Discovery.MaxSearchQueries)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("llm: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	// Default has no API key
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for missing API key")
	}

	cfg.LLM.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}

	cfg.LLM.Provider = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid provider")
	}

	cfg.LLM.Provider = "ollama"
	cfg.LLM.APIKey = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("ollama should not need a key: %v", err)
	}

	cfg.Discovery.Mode = "magic"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for discovery mode")
	}
}

func TestConfig_ValidateCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Provider = "ollama"

	cfg.Cache.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for cache driver")
	}

	cfg.Cache.Driver = "sqlite"
	cfg.Cache.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for missing cache path")
	}

	cfg.Cache.Driver = "memory"
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory cache needs no path: %v", err)
	}
	if cfg.Cache.IsPersistent() {
		t.Error("memory cache should not be persistent")
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetSpecialistTimeout(); got != 60*time.Second {
		t.Errorf("expected 60s, got %v", got)
	}

	cfg.Specialist.Timeout = "garbage"
	if got := cfg.GetSpecialistTimeout(); got != 60*time.Second {
		t.Errorf("expected fallback 60s, got %v", got)
	}

	cfg.Specialist.Timeout = "250ms"
	if got := cfg.GetSpecialistTimeout(); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}

	cfg.Cache.TTL = "-1h"
	if got := cfg.GetCacheTTL(); got != 24*time.Hour {
		t.Errorf("negative TTL should fall back, got %v", got)
	}
}

func TestConfig_ForStage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Model = "base-model"

	sp := cfg.ForStage(StageSpecialist)
	if sp.Model != "o3-mini" {
		t.Errorf("expected specialist model override, got %s", sp.Model)
	}
	if sp.Temperature != 0.1 {
		t.Errorf("expected temperature 0.1, got %v", sp.Temperature)
	}

	synth := cfg.ForStage(StageSynthesis)
	if synth.Model != "base-model" {
		t.Errorf("expected shared model, got %s", synth.Model)
	}
	if synth.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", synth.Temperature)
	}
	if synth.Timeout != "180s" {
		t.Errorf("expected synthesis timeout 180s, got %s", synth.Timeout)
	}
	if got := cfg.ForStage(StageDiscovery).Timeout; got != "120s" {
		t.Errorf("expected shared timeout for discovery, got %s", got)
	}
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{}
	if lc.IsCategoryEnabled("flow") {
		t.Error("production mode should disable all categories")
	}

	lc.DebugMode = true
	if !lc.IsCategoryEnabled("flow") {
		t.Error("debug mode should enable unspecified categories")
	}

	lc.Categories = map[string]bool{"flow": false}
	if lc.IsCategoryEnabled("flow") {
		t.Error("explicitly disabled category should be off")
	}
	if !lc.IsCategoryEnabled("dispatch") {
		t.Error("unlisted category should stay on")
	}
}
