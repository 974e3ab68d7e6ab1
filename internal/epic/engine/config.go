package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/danshapiro/epic/internal/epic/compile"
	"github.com/danshapiro/epic/internal/logging"
)

const (
	BackendGemini       = "gemini"
	BackendOpenAICompat = "openai_compat"
	BackendScripted     = "scripted"
)

type LLMConfig struct {
	Backend           string `yaml:"backend" json:"backend"`
	Model             string `yaml:"model" json:"model"`
	APIKeyEnv         string `yaml:"api_key_env" json:"api_key_env"`
	BaseURL           string `yaml:"base_url" json:"base_url"`
	SystemPromptFile  string `yaml:"system_prompt_file" json:"system_prompt_file"`
	MaxRetries        int    `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelayMS  int    `yaml:"retry_base_delay_ms" json:"retry_base_delay_ms"`
	ScriptedResponses string `yaml:"scripted_responses" json:"scripted_responses"`
}

type RunCommandConfig struct {
	TimeoutMS int    `yaml:"timeout_ms" json:"timeout_ms"`
	Shell     string `yaml:"shell" json:"shell"`
}

type TemplateConfig struct {
	Root    string   `yaml:"root" json:"root"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

type DocsConfig struct {
	Root string `yaml:"root" json:"root"`
}

type LoopConfig struct {
	IterationMax int `yaml:"iteration_max" json:"iteration_max"`
}

type FixConfig struct {
	MaxToolRounds      int `yaml:"max_tool_rounds" json:"max_tool_rounds"`
	ContextTokenBudget int `yaml:"context_token_budget" json:"context_token_budget"`
	ToolTimeoutMS      int `yaml:"tool_timeout_ms" json:"tool_timeout_ms"`
}

type CheckpointConfig struct {
	History bool `yaml:"history" json:"history"`
}

type GitConfig struct {
	CommitPerStep bool `yaml:"commit_per_step" json:"commit_per_step"`
}

type SetupConfig struct {
	Commands  []string `yaml:"commands" json:"commands"`
	TimeoutMS int      `yaml:"timeout_ms" json:"timeout_ms"`
}

type RunConfigFile struct {
	Version    int              `yaml:"version" json:"version"`
	OutputRoot string           `yaml:"output_root" json:"output_root"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Run        RunCommandConfig `yaml:"run" json:"run"`
	Template   TemplateConfig   `yaml:"template" json:"template"`
	Docs       DocsConfig       `yaml:"docs" json:"docs"`
	Loop       LoopConfig       `yaml:"loop" json:"loop"`
	Fix        FixConfig        `yaml:"fix" json:"fix"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Git        GitConfig        `yaml:"git" json:"git"`
	Setup      SetupConfig      `yaml:"setup" json:"setup"`
	Logging    logging.Config   `yaml:"logging" json:"logging"`
}

// DefaultRunConfig is the configuration used when no file is given.
func DefaultRunConfig() *RunConfigFile {
	cfg := &RunConfigFile{}
	applyConfigDefaults(cfg)
	return cfg
}

func LoadRunConfigFile(path string) (*RunConfigFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RunConfigFile
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, err
		}
	}
	applyConfigDefaults(&cfg)
	resolveConfigPaths(&cfg, filepath.Dir(path))
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *RunConfigFile) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *RunConfigFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyConfigDefaults(cfg *RunConfigFile) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if strings.TrimSpace(cfg.OutputRoot) == "" {
		cfg.OutputRoot = "output"
	}
	cfg.LLM.Backend = strings.ToLower(strings.TrimSpace(cfg.LLM.Backend))
	if cfg.LLM.APIKeyEnv == "" {
		switch cfg.LLM.Backend {
		case BackendGemini:
			cfg.LLM.APIKeyEnv = "GEMINI_API_KEY"
		case BackendOpenAICompat:
			cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryBaseDelayMS == 0 {
		cfg.LLM.RetryBaseDelayMS = 1000
	}
	if cfg.Run.TimeoutMS <= 0 {
		cfg.Run.TimeoutMS = 600_000
	}
	if strings.TrimSpace(cfg.Run.Shell) == "" {
		cfg.Run.Shell = "bash"
	}
	if cfg.Template.Exclude == nil {
		cfg.Template.Exclude = []string{".git/**"}
	}
	cfg.Template.Exclude = trimNonEmpty(cfg.Template.Exclude)
	if cfg.Loop.IterationMax <= 0 {
		cfg.Loop.IterationMax = compile.DefaultIterationMax
	}
	if cfg.Fix.MaxToolRounds <= 0 {
		cfg.Fix.MaxToolRounds = 20
	}
	if cfg.Fix.ContextTokenBudget <= 0 {
		cfg.Fix.ContextTokenBudget = 100_000
	}
	if cfg.Fix.ToolTimeoutMS <= 0 {
		cfg.Fix.ToolTimeoutMS = 120_000
	}
	if cfg.Setup.TimeoutMS <= 0 {
		cfg.Setup.TimeoutMS = 300_000
	}
	cfg.Setup.Commands = trimNonEmpty(cfg.Setup.Commands)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// resolveConfigPaths makes relative paths absolute against the config
// file's directory.
func resolveConfigPaths(cfg *RunConfigFile, dir string) {
	for _, p := range []*string{
		&cfg.OutputRoot,
		&cfg.Template.Root,
		&cfg.Docs.Root,
		&cfg.LLM.SystemPromptFile,
		&cfg.LLM.ScriptedResponses,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func validateConfig(cfg *RunConfigFile) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d", cfg.Version)
	}
	switch cfg.LLM.Backend {
	case "", BackendGemini, BackendOpenAICompat:
	case BackendScripted:
		if cfg.LLM.ScriptedResponses == "" {
			return fmt.Errorf("llm.scripted_responses is required for the scripted backend")
		}
	default:
		return fmt.Errorf("unknown llm.backend %q (want %s, %s or %s)", cfg.LLM.Backend, BackendGemini, BackendOpenAICompat, BackendScripted)
	}
	if cfg.LLM.Backend == BackendOpenAICompat && strings.TrimSpace(cfg.LLM.BaseURL) == "" {
		return fmt.Errorf("llm.base_url is required for the openai_compat backend")
	}
	if cfg.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be >= 0")
	}
	for _, g := range cfg.Template.Exclude {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("template.exclude: invalid glob %q", g)
		}
	}
	return nil
}

func trimNonEmpty(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
