package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
llm_api_key: "test-key"
regions:
  UK:
    region: UK
    servers: ["nice", "cks"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RPCTimeoutMS != defaultRPCTimeoutMS {
		t.Errorf("RPCTimeoutMS = %d, want %d", cfg.RPCTimeoutMS, defaultRPCTimeoutMS)
	}
	if cfg.WorkflowTimeoutMS != defaultWorkflowTimeoutMS {
		t.Errorf("WorkflowTimeoutMS = %d, want %d", cfg.WorkflowTimeoutMS, defaultWorkflowTimeoutMS)
	}
	if cfg.MaxToolIterations != defaultMaxToolIterations {
		t.Errorf("MaxToolIterations = %d, want %d", cfg.MaxToolIterations, defaultMaxToolIterations)
	}
	if _, ok := cfg.Regions["UK"]; !ok {
		t.Fatalf("expected UK region to be present")
	}
}

func TestLoadMissingAPIKeySucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
regions:
  UK:
    region: UK
    servers: ["nice"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil: llm_api_key is optional at config load, the workflow short-circuits instead", err)
	}
	if cfg.LLMAPIKey != "" {
		t.Errorf("LLMAPIKey = %q, want empty", cfg.LLMAPIKey)
	}
}

func TestLoadNoRegionsFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
llm_api_key: "test-key"
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty region catalog")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
llm_api_key: "from-file"
regions:
  UK:
    region: UK
    servers: ["nice"]
`)

	t.Setenv("CDS_LLM_API_KEY", "from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLMAPIKey != "from-env" {
		t.Errorf("LLMAPIKey = %q, want %q", cfg.LLMAPIKey, "from-env")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	writeFile(t, basePath, `
regions:
  UK:
    region: UK
    servers: ["nice"]
`)
	mainPath := filepath.Join(dir, "config.yaml")
	writeFile(t, mainPath, `
$include: base.yaml
llm_api_key: "test-key"
`)

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := cfg.Regions["UK"]; !ok {
		t.Fatalf("expected included region to be merged")
	}
}
