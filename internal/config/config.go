package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

var errConfig = errs.ErrConfig

// Config is the fully-resolved configuration surface: LLM credentials,
// per-call timeouts, the workflow deadline, the tool-loop iteration cap,
// per-source top-K limits, the server manifest directory, and the region
// catalog consulted by the region selector.
type Config struct {
	LLMAPIKey string `yaml:"llm_api_key"`
	LLMModel  string `yaml:"llm_model"`

	RPCTimeoutMS      int `yaml:"rpc_timeout_ms"`
	WorkflowTimeoutMS int `yaml:"workflow_timeout_ms"`
	MaxToolIterations int `yaml:"max_tool_iterations"`

	TopKGuidelines int `yaml:"top_k_guidelines"`
	TopKCKS        int `yaml:"top_k_cks"`
	TopKBNF        int `yaml:"top_k_bnf"`

	ServersDir string `yaml:"servers_dir"`

	// TraceEndpoint is the OTLP gRPC collector address (e.g.
	// "localhost:4317"). Left empty, tracing is a no-op.
	TraceEndpoint string `yaml:"trace_endpoint"`

	Servers map[string]ServerSpec          `yaml:"servers"`
	Regions map[string]clinical.RegionConfig `yaml:"regions"`
}

// ServerSpec is one knowledge-server's process launch manifest, read from
// ServersDir or inlined under the top-level "servers" key.
type ServerSpec struct {
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	WorkDir   string            `yaml:"work_dir"`
	AutoStart bool              `yaml:"auto_start"`
}

// Defaults applied when the YAML document leaves a field unset.
const (
	defaultRPCTimeoutMS      = 30_000
	defaultWorkflowTimeoutMS = 300_000
	defaultMaxToolIterations = 8
	defaultTopKGuidelines    = 5
	defaultTopKCKS           = 3
	defaultTopKBNF           = 3
)

// Load reads, resolves includes for, and decodes the config file at path,
// applies defaults for anything left unset, then lets CDS_-prefixed
// environment variables override individual scalar fields. This is the
// entrypoint cmd/clinicalctl and the HTTP adapter both use to obtain a
// *Config.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPCTimeoutMS <= 0 {
		c.RPCTimeoutMS = defaultRPCTimeoutMS
	}
	if c.WorkflowTimeoutMS <= 0 {
		c.WorkflowTimeoutMS = defaultWorkflowTimeoutMS
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = defaultMaxToolIterations
	}
	if c.TopKGuidelines <= 0 {
		c.TopKGuidelines = defaultTopKGuidelines
	}
	if c.TopKCKS <= 0 {
		c.TopKCKS = defaultTopKCKS
	}
	if c.TopKBNF <= 0 {
		c.TopKBNF = defaultTopKBNF
	}
	if c.LLMModel == "" {
		c.LLMModel = "claude-sonnet-4-5"
	}
}

// applyEnvOverrides lets deployment-time environment variables win over
// whatever the YAML document says, matching the override-after-decode
// idiom used throughout the ambient config stack.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("CDS_LLM_API_KEY")); v != "" {
		c.LLMAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CDS_LLM_MODEL")); v != "" {
		c.LLMModel = v
	}
	if v := strings.TrimSpace(os.Getenv("CDS_SERVERS_DIR")); v != "" {
		c.ServersDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CDS_TRACE_ENDPOINT")); v != "" {
		c.TraceEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("CDS_RPC_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RPCTimeoutMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CDS_WORKFLOW_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkflowTimeoutMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CDS_MAX_TOOL_ITERATIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxToolIterations = n
		}
	}
}

// Validate reports the configuration problems that should prevent
// startup, mapped by the HTTP adapter to ErrConfig / 503. llm_api_key is
// deliberately not checked here: if it's absent, the workflow's tool-use
// loop short-circuits to an empty result at call time instead of failing
// config load.
func (c *Config) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("%w: at least one region must be configured", errConfig)
	}
	return nil
}
