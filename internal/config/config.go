package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/heike/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

// Config is the process-wide, typed configuration snapshot (§4.2).
// Store.Reload() re-parses the same chain and atomically swaps the pointer
// so a reader never observes a half-written state.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Agent        AgentConfig        `koanf:"agent"`
	Models       ModelsConfig       `koanf:"models"`
	Governance   GovernanceConfig   `koanf:"governance"`
	Tools        ToolsConfig        `koanf:"tools"`
	Prompts      PromptsConfig      `koanf:"prompts"`
	Store        StoreConfig        `koanf:"store"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Scheduler    SchedulerConfig    `koanf:"scheduler"`
	Daemon       DaemonConfig       `koanf:"daemon"`
}

// AgentConfig holds the closed settings set the agent recognizes by name
// (§4.2): provider, model, api_key, sandbox_path, auto_confirm, log_level,
// and the SMTP/IMAP quartet. Any other key set through the Store passes
// through the underlying koanf map untouched.
type AgentConfig struct {
	Provider     string `koanf:"provider"`
	Model        string `koanf:"model"`
	APIKey       string `koanf:"api_key"`
	SandboxPath  string `koanf:"sandbox_path"`
	AutoConfirm  bool   `koanf:"auto_confirm"`
	LogLevel     string `koanf:"log_level"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	IMAPHost     string `koanf:"imap_host"`
	IMAPPort     int    `koanf:"imap_port"`
	IMAPUser     string `koanf:"imap_user"`
	IMAPPassword string `koanf:"imap_password"`
}

type PromptsConfig struct {
	Planner    PlannerPromptConfig    `koanf:"planner"`
	Reflector  ReflectorPromptConfig  `koanf:"reflector"`
	Decomposer DecomposerPromptConfig `koanf:"decomposer"`
}

type PlannerPromptConfig struct {
	System string `koanf:"system"`
	Output string `koanf:"output"`
}

type ReflectorPromptConfig struct {
	System     string `koanf:"system"`
	Guidelines string `koanf:"guidelines"`
}

type DecomposerPromptConfig struct {
	System       string `koanf:"system"`
	Requirements string `koanf:"requirements"`
}

type StoreConfig struct {
	LockTimeout              string `koanf:"lock_timeout"`
	LockRetry                string `koanf:"lock_retry"`
	LockMaxRetry             int    `koanf:"lock_max_retry"`
	InboxSize                int    `koanf:"inbox_size"`
	TranscriptRotateMaxBytes int64  `koanf:"transcript_rotate_max_bytes"`
}

type SchedulerConfig struct {
	TickInterval         string `koanf:"tick_interval"`
	ShutdownTimeout      string `koanf:"shutdown_timeout"`
	LeaseDuration        string `koanf:"lease_duration"`
	MaxCatchupRuns       int    `koanf:"max_catchup_runs"`
	InFlightPollInterval string `koanf:"in_flight_poll_interval"`
}

type DaemonConfig struct {
	ShutdownTimeout  string `koanf:"shutdown_timeout"`
	PreflightTimeout string `koanf:"preflight_timeout"`
	StaleLockTTL     string `koanf:"stale_lock_ttl"`
	WorkspacePath    string `koanf:"workspace_path"`
}

type ToolsConfig struct {
	Web          WebToolConfig        `koanf:"web"`
	Weather      WeatherToolConfig    `koanf:"weather"`
	Finance      FinanceToolConfig    `koanf:"finance"`
	Sports       SportsToolConfig     `koanf:"sports"`
	ImageQuery   ImageQueryToolConfig `koanf:"image_query"`
	Screenshot   ScreenshotToolConfig `koanf:"screenshot"`
	ApplyPatch   ApplyPatchToolConfig `koanf:"apply_patch"`
	PythonScript PythonScriptToolConfig `koanf:"python_script"`
}

type PythonScriptToolConfig struct {
	Timeout string `koanf:"timeout"`
}

type WebToolConfig struct {
	BaseURL          string `koanf:"base_url"`
	Timeout          string `koanf:"timeout"`
	MaxContentLength int    `koanf:"max_content_length"`
}

type WeatherToolConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type FinanceToolConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type SportsToolConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type ImageQueryToolConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type ScreenshotToolConfig struct {
	Timeout  string `koanf:"timeout"`
	Renderer string `koanf:"renderer"`
}

type ApplyPatchToolConfig struct {
	Command string `koanf:"command"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Fallback            string          `koanf:"fallback"`
	Embedding           string          `koanf:"embedding"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type GovernanceConfig struct {
	RequireApproval []string `koanf:"require_approval"`
	AutoAllow       []string `koanf:"auto_allow"`
	IdempotencyTTL  string   `koanf:"idempotency_ttl"`
	DailyToolLimit  int      `koanf:"daily_tool_limit"`
}

type OrchestratorConfig struct {
	MaxToolsPerTurn        int    `koanf:"max_tools_per_turn"`
	MaxAttempts            int    `koanf:"max_attempts"`
	TokenBudget            int    `koanf:"token_budget"`
	DecomposeWordThreshold int    `koanf:"decompose_word_threshold"`
	SessionHistoryLimit    int    `koanf:"session_history_limit"`
	StructuredRetryMax     int    `koanf:"structured_retry_max"`
	IntentThreshold        string `koanf:"intent_threshold"`
	UserInputTimeout       string `koanf:"user_input_timeout"`
	EmbeddingReadyTimeout  string `koanf:"embedding_ready_timeout"`
}

const (
	DefaultWorkspaceID = "default"

	DefaultServerPort             = 8080
	DefaultServerLogLevel         = "info"
	DefaultServerShutdownTimeout  = "5s"

	DefaultAgentProvider  = "openai"
	DefaultAgentAutoConfirm = false

	DefaultModelDefault             = "gpt-4-turbo"
	DefaultModelFallback            = "claude-3-haiku"
	DefaultModelEmbedding           = "nomic-embed-text"
	DefaultModelMaxFallbackAttempts = 2
	DefaultOpenAIBaseURL            = "https://api.openai.com/v1"
	DefaultOllamaBaseURL            = "http://localhost:11434/v1"
	DefaultOllamaAPIKey             = "ollama"

	DefaultGovernanceIdempotencyTTL = "24h"
	DefaultGovernanceDailyToolLimit = 100

	DefaultPlannerSystemPrompt = "You are a strategic planning agent. Create a concise, step-by-step plan to achieve the goal using only the registered step types."
	DefaultPlannerOutputPrompt = "Output the plan as a JSON array of step objects with 'type', 'action', 'params', and optional 'description' fields. Do not include any other text."

	DefaultReflectorSystemPrompt     = "You are a reflective agent. Analyze the last failed step and its error."
	DefaultReflectorGuidelinesPrompt = "Return a JSON object with \"is_retryable\" (bool), \"modified_step\" (a fully-formed step object or null), and \"reason\" (string).\n\nGuidelines:\n- Mark non-retryable any error that requires user action (missing API key, missing native dependency, unsupported feature).\n- For retryable errors, return a fully-formed corrected step; never use placeholder tokens.\n- Preserve the original step type unless the tool itself was misidentified."

	DefaultDecomposerSystemPrompt       = "You are a task decomposition expert. Break down the following high-level goal into a list of specific, executable sub-tasks."
	DefaultDecomposerRequirementsPrompt = "Return the result as a JSON array of objects with 'id', 'description', 'priority' (1-5), and 'dependencies' (array of ids)."

	DefaultStoreLockTimeout              = "30s"
	DefaultStoreLockRetry                = "100ms"
	DefaultStoreLockMaxRetry             = 300
	DefaultStoreInboxSize                = 100
	DefaultStoreTranscriptRotateMaxBytes = 10 * 1024 * 1024

	DefaultOrchestratorMaxToolsPerTurn       = 12
	DefaultOrchestratorMaxAttempts           = 3
	DefaultOrchestratorTokenBudget           = 8000
	DefaultOrchestratorDecomposeWordThresh   = 20
	DefaultOrchestratorSessionHistoryLimit   = 20
	DefaultOrchestratorStructuredRetryMax    = 1
	DefaultOrchestratorIntentThreshold       = "0.65"
	DefaultOrchestratorUserInputTimeout      = "600s"
	DefaultOrchestratorEmbeddingReadyTimeout = "60s"

	DefaultWebToolTimeout          = "10s"
	DefaultWebToolBaseURL          = "https://www.bing.com/search"
	DefaultWebToolMaxContentLength = 5000
	DefaultWeatherToolBaseURL      = "https://wttr.in"
	DefaultWeatherToolTimeout      = "10s"
	DefaultFinanceToolBaseURL      = "https://query1.finance.yahoo.com/v7/finance/quote"
	DefaultFinanceToolTimeout      = "10s"
	DefaultSportsToolBaseURL       = "https://site.api.espn.com/apis/v2/sports"
	DefaultSportsToolTimeout       = "10s"
	DefaultImageQueryToolBaseURL   = "https://commons.wikimedia.org/w/api.php"
	DefaultImageQueryToolTimeout   = "10s"
	DefaultScreenshotToolTimeout   = "20s"
	DefaultScreenshotToolRenderer  = "pdftoppm"
	DefaultApplyPatchToolCommand   = "apply_patch"
	DefaultPythonScriptToolTimeout = "30s"

	DefaultSchedulerTickInterval         = "1m"
	DefaultSchedulerShutdownTimeout      = "30s"
	DefaultSchedulerLeaseDuration        = "5m"
	DefaultSchedulerMaxCatchupRuns       = 1
	DefaultSchedulerInFlightPollInterval = "100ms"

	DefaultDaemonShutdownTimeout  = "30s"
	DefaultDaemonPreflightTimeout = "10s"
	DefaultDaemonStaleLockTTL     = "15m"
)

func defaultValues() map[string]interface{} {
	return map[string]interface{}{
		"server.port":             DefaultServerPort,
		"server.log_level":        DefaultServerLogLevel,
		"server.shutdown_timeout": DefaultServerShutdownTimeout,

		"agent.provider":     DefaultAgentProvider,
		"agent.log_level":    DefaultServerLogLevel,
		"agent.auto_confirm": DefaultAgentAutoConfirm,
		"agent.sandbox_path": filepath.Join(os.Getenv("HOME"), ".agent-core", "sandbox"),

		"models.default":               DefaultModelDefault,
		"models.fallback":              DefaultModelFallback,
		"models.embedding":             DefaultModelEmbedding,
		"models.max_fallback_attempts": DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelFallback, Provider: "anthropic"},
			{Name: "local-llama", Provider: "ollama", BaseURL: DefaultOllamaBaseURL},
		},

		"governance.require_approval": []string{"exec_command", "file_delete", "send_email"},
		"governance.auto_allow":       []string{"time", "screenshot_desktop", "get_system_info", "list_files"},
		"governance.idempotency_ttl":  DefaultGovernanceIdempotencyTTL,
		"governance.daily_tool_limit": DefaultGovernanceDailyToolLimit,

		"prompts.planner.system":          DefaultPlannerSystemPrompt,
		"prompts.planner.output":          DefaultPlannerOutputPrompt,
		"prompts.reflector.system":        DefaultReflectorSystemPrompt,
		"prompts.reflector.guidelines":    DefaultReflectorGuidelinesPrompt,
		"prompts.decomposer.system":       DefaultDecomposerSystemPrompt,
		"prompts.decomposer.requirements": DefaultDecomposerRequirementsPrompt,

		"store.lock_timeout":                DefaultStoreLockTimeout,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.lock_max_retry":              DefaultStoreLockMaxRetry,
		"store.inbox_size":                  DefaultStoreInboxSize,
		"store.transcript_rotate_max_bytes": DefaultStoreTranscriptRotateMaxBytes,

		"tools.web.base_url":           DefaultWebToolBaseURL,
		"tools.web.timeout":            DefaultWebToolTimeout,
		"tools.web.max_content_length": DefaultWebToolMaxContentLength,
		"tools.weather.base_url":       DefaultWeatherToolBaseURL,
		"tools.weather.timeout":        DefaultWeatherToolTimeout,
		"tools.finance.base_url":       DefaultFinanceToolBaseURL,
		"tools.finance.timeout":        DefaultFinanceToolTimeout,
		"tools.sports.base_url":        DefaultSportsToolBaseURL,
		"tools.sports.timeout":         DefaultSportsToolTimeout,
		"tools.image_query.base_url":   DefaultImageQueryToolBaseURL,
		"tools.image_query.timeout":    DefaultImageQueryToolTimeout,
		"tools.screenshot.timeout":     DefaultScreenshotToolTimeout,
		"tools.screenshot.renderer":    DefaultScreenshotToolRenderer,
		"tools.apply_patch.command":    DefaultApplyPatchToolCommand,
		"tools.python_script.timeout":  DefaultPythonScriptToolTimeout,

		"orchestrator.max_tools_per_turn":       DefaultOrchestratorMaxToolsPerTurn,
		"orchestrator.max_attempts":             DefaultOrchestratorMaxAttempts,
		"orchestrator.token_budget":             DefaultOrchestratorTokenBudget,
		"orchestrator.decompose_word_threshold": DefaultOrchestratorDecomposeWordThresh,
		"orchestrator.session_history_limit":    DefaultOrchestratorSessionHistoryLimit,
		"orchestrator.structured_retry_max":     DefaultOrchestratorStructuredRetryMax,
		"orchestrator.intent_threshold":         DefaultOrchestratorIntentThreshold,
		"orchestrator.user_input_timeout":       DefaultOrchestratorUserInputTimeout,
		"orchestrator.embedding_ready_timeout":  DefaultOrchestratorEmbeddingReadyTimeout,

		"scheduler.tick_interval":           DefaultSchedulerTickInterval,
		"scheduler.shutdown_timeout":        DefaultSchedulerShutdownTimeout,
		"scheduler.lease_duration":          DefaultSchedulerLeaseDuration,
		"scheduler.max_catchup_runs":        DefaultSchedulerMaxCatchupRuns,
		"scheduler.in_flight_poll_interval": DefaultSchedulerInFlightPollInterval,

		"daemon.shutdown_timeout":  DefaultDaemonShutdownTimeout,
		"daemon.preflight_timeout": DefaultDaemonPreflightTimeout,
		"daemon.stale_lock_ttl":    DefaultDaemonStaleLockTTL,
		"daemon.workspace_path":    filepath.Join(os.Getenv("HOME"), ".agent-core", "workspaces"),
	}
}

// Load reads the hardcoded defaults, then an optional YAML file, then
// AGENTCORE_-prefixed environment overrides, then CLI flags, in that order
// (§4.2, §0.3). It is a one-shot convenience wrapper around buildKoanf +
// decode for callers (cmd/heike's non-serve subcommands) that only ever
// need a single snapshot; the long-running service loop uses Store
// instead so it can reload() between tasks.
func Load(cmd *cobra.Command) (*Config, error) {
	k, err := buildKoanf(cmd)
	if err != nil {
		return nil, err
	}
	return decode(k)
}

// resolveConfigPath returns the YAML file Load/buildKoanf reads and
// whether it was explicitly requested via --config (in which case a
// load failure is fatal) or is just the per-user global default (in
// which case a missing file is expected and silently skipped).
// Shared by buildKoanf and Store.Save so both agree on where
// configuration lives on disk.
func resolveConfigPath(cmd *cobra.Command) (path string, explicit bool) {
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			if p := strings.TrimSpace(flag.Value.String()); p != "" {
				return p, true
			}
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, ".heike", "config.yaml"), false
}

// buildKoanf runs the §4.2/§0.3 defaults → file → env → flags chain and
// returns the populated koanf instance, before it's decoded into a
// typed Config. Kept separate from decode so Store can retain the
// instance for get/set/save without re-parsing the chain on every call.
func buildKoanf(cmd *cobra.Command) (*koanf.Koanf, error) {
	k := koanf.New(".")

	for key, value := range defaultValues() {
		k.Set(key, value)
	}

	configPath, explicit := resolveConfigPath(cmd)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			if explicit {
				return nil, err
			}
			slog.Debug("global config not found or invalid", "path", configPath, "error", err)
		}
	}

	k.Load(env.Provider("AGENTCORE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "AGENTCORE_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	return k, nil
}

// decode unmarshals k into a typed Config and applies the defaulting/
// normalization passes Load has always run: registry provider
// defaulting, sandbox/workspace path expansion, and environment API
// key fallbacks.
func decode(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = os.Getenv("AGENTCORE_API_KEY")
	}

	return &cfg, nil
}

// ModelForProvider returns the registry entry name matching cfg's
// active provider (§4.2's per-provider model-name fallback), falling
// back to models.default when no registry entry names that provider.
func ModelForProvider(cfg *Config) string {
	if cfg == nil {
		return ""
	}
	for _, m := range cfg.Models.Registry {
		if m.Provider == cfg.Agent.Provider && m.Name != "" {
			return m.Name
		}
	}
	return cfg.Models.Default
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	sandboxPath, err := expandConfiguredPath(cfg.Agent.SandboxPath)
	if err != nil {
		return err
	}
	if sandboxPath != "" {
		cfg.Agent.SandboxPath = sandboxPath
	}

	workspacePath, err := expandConfiguredPath(cfg.Daemon.WorkspacePath)
	if err != nil {
		return err
	}
	if workspacePath != "" {
		cfg.Daemon.WorkspacePath = workspacePath
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
