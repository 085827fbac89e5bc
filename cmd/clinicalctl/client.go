package main

import (
	"fmt"

	"github.com/clinical-cds/orchestrator/internal/agent"
	"github.com/clinical-cds/orchestrator/internal/config"
	"github.com/clinical-cds/orchestrator/internal/llm"
)

// buildLLMClient constructs the configured provider's Client. provider
// defaults to "anthropic"; "openai" selects the vendor-agnostic
// alternative proving the tool-use loop isn't tied to one vendor. Both
// clients carry the driver's system prompt natively, so the tool-use loop
// never has to inject it as a synthetic message of its own.
func buildLLMClient(cfg *config.Config, provider string) (llm.Client, error) {
	system := agent.DefaultConfig().SystemPrompt
	switch provider {
	case "", "anthropic":
		return llm.NewAnthropicClient(cfg.LLMAPIKey, cfg.LLMModel, system), nil
	case "openai":
		return llm.NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMModel, system), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic or openai)", provider)
	}
}
