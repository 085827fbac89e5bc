package main

import (
	"testing"

	"github.com/clinical-cds/orchestrator/internal/config"
)

func TestBuildLLMClientDefaultsToAnthropic(t *testing.T) {
	cfg := &config.Config{LLMAPIKey: "test-key", LLMModel: "claude-sonnet-4-5"}
	client, err := buildLLMClient(cfg, "")
	if err != nil {
		t.Fatalf("buildLLMClient() error = %v", err)
	}
	if client == nil {
		t.Fatal("expected a non-nil client")
	}
}

func TestBuildLLMClientOpenAI(t *testing.T) {
	cfg := &config.Config{LLMAPIKey: "test-key", LLMModel: "gpt-4o"}
	client, err := buildLLMClient(cfg, "openai")
	if err != nil {
		t.Fatalf("buildLLMClient() error = %v", err)
	}
	if client == nil {
		t.Fatal("expected a non-nil client")
	}
}

func TestBuildLLMClientUnknownProvider(t *testing.T) {
	cfg := &config.Config{LLMAPIKey: "test-key"}
	if _, err := buildLLMClient(cfg, "bogus"); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}
