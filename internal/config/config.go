// Package config loads and validates the Reflex TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	General   General   `toml:"general"`
	Runner    Runner    `toml:"runner"`
	Learning  Learning  `toml:"learning"`
	Roadmap   Roadmap   `toml:"roadmap"`
	Safety    Safety    `toml:"safety"`
	RateLimit RateLimit `toml:"rate_limit"`
	Cost      Cost      `toml:"cost"`
	Prompts   Prompts   `toml:"prompts"`
	Host      Host      `toml:"host"`
	Health    Health    `toml:"health"`
}

type General struct {
	Workspace string `toml:"workspace"` // repository working tree the orchestrator observes
	StateDB   string `toml:"state_db"`  // sqlite ledger path
	LogLevel  string `toml:"log_level"`
}

// Runner configures the external multi-provider reasoning subprocess.
type Runner struct {
	Binary      string   `toml:"binary"`       // e.g. "council"
	Backend     string   `toml:"backend"`      // "subprocess" or "docker"
	DockerImage string   `toml:"docker_image"` // used when backend = "docker"
	Providers   []string `toml:"providers"`    // optional provider subset
	Timeout     Duration `toml:"timeout"`      // default per-query timeout
	RiskTimeout Duration `toml:"risk_timeout"` // risk assessment timeout
}

type Learning struct {
	MinOccurrences int      `toml:"min_occurrences"`
	LookbackDays   int      `toml:"lookback_days"`
	AutoApply      bool     `toml:"auto_apply"`
	Interval       Duration `toml:"interval"`
}

type Roadmap struct {
	Frequency    string `toml:"frequency"` // manual, daily, weekly, monthly
	StateFile    string `toml:"state_file"`
	MaxProposals int    `toml:"max_proposals"`
	BotLabel     bool   `toml:"bot_label"` // add bot-approved to created issues
}

type Safety struct {
	MaxComplexity       float64  `toml:"max_complexity"`
	ProtectedPatterns   []string `toml:"protected_patterns"` // appended to the built-in set
	MultiAgentRisk      bool     `toml:"multi_agent_risk"`
	AutoApproveLowRisk  bool     `toml:"auto_approve_low_risk"`
	ApprovalTimeoutHrs  float64  `toml:"approval_timeout_hours"`
	RollbackBeforeRisky bool     `toml:"rollback_before_risky"` // create a rollback point before risky changes
}

type RateLimit struct {
	StateFile string `toml:"state_file"`
}

type Cost struct {
	BudgetUSD  float64 `toml:"budget_usd"`
	WindowDays int     `toml:"window_days"`
}

type Prompts struct {
	LibraryPath string `toml:"library_path"`
}

type Host struct {
	Repo string `toml:"repo"` // "owner/name"; empty means gh default for the workspace
	Bin  string `toml:"bin"`  // gh binary, default "gh"
}

type Health struct {
	CheckInterval Duration `toml:"check_interval"`
	DiskWarnPct   float64  `toml:"disk_warn_pct"`
	MemWarnPct    float64  `toml:"mem_warn_pct"`
}

// Load reads and validates a Reflex TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.Workspace == "" {
		cfg.General.Workspace = "."
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "~/.reflex/reflex.db"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}

	if cfg.Runner.Binary == "" {
		cfg.Runner.Binary = "council"
	}
	if cfg.Runner.Backend == "" {
		cfg.Runner.Backend = "subprocess"
	}
	if cfg.Runner.Timeout.Duration == 0 {
		cfg.Runner.Timeout.Duration = 120 * time.Second
	}
	if cfg.Runner.RiskTimeout.Duration == 0 {
		cfg.Runner.RiskTimeout.Duration = 180 * time.Second
	}

	if cfg.Learning.MinOccurrences == 0 {
		cfg.Learning.MinOccurrences = 3
	}
	if cfg.Learning.LookbackDays == 0 {
		cfg.Learning.LookbackDays = 30
	}
	if cfg.Learning.Interval.Duration == 0 {
		cfg.Learning.Interval.Duration = 24 * time.Hour
	}

	if cfg.Roadmap.Frequency == "" {
		cfg.Roadmap.Frequency = "weekly"
	}
	if cfg.Roadmap.StateFile == "" {
		cfg.Roadmap.StateFile = "~/.reflex/roadmap-state.json"
	}
	if cfg.Roadmap.MaxProposals == 0 {
		cfg.Roadmap.MaxProposals = 8
	}

	if cfg.Safety.MaxComplexity == 0 {
		cfg.Safety.MaxComplexity = 8
	}
	if cfg.Safety.ApprovalTimeoutHrs == 0 {
		cfg.Safety.ApprovalTimeoutHrs = 24
	}

	if cfg.RateLimit.StateFile == "" {
		cfg.RateLimit.StateFile = "~/.reflex/rate-limits.json"
	}

	if cfg.Cost.BudgetUSD == 0 {
		cfg.Cost.BudgetUSD = 100
	}
	if cfg.Cost.WindowDays == 0 {
		cfg.Cost.WindowDays = 30
	}

	if cfg.Prompts.LibraryPath == "" {
		cfg.Prompts.LibraryPath = "~/.reflex/prompts.json"
	}

	if cfg.Host.Bin == "" {
		cfg.Host.Bin = "gh"
	}

	if cfg.Health.CheckInterval.Duration == 0 {
		cfg.Health.CheckInterval.Duration = 5 * time.Minute
	}
	if cfg.Health.DiskWarnPct == 0 {
		cfg.Health.DiskWarnPct = 90
	}
	if cfg.Health.MemWarnPct == 0 {
		cfg.Health.MemWarnPct = 90
	}
}

var validFrequencies = map[string]struct{}{
	"manual":  {},
	"daily":   {},
	"weekly":  {},
	"monthly": {},
}

var validBackends = map[string]struct{}{
	"subprocess": {},
	"docker":     {},
}

func validate(cfg *Config) error {
	if _, ok := validFrequencies[cfg.Roadmap.Frequency]; !ok {
		return fmt.Errorf("roadmap.frequency %q is not one of manual, daily, weekly, monthly", cfg.Roadmap.Frequency)
	}
	if _, ok := validBackends[cfg.Runner.Backend]; !ok {
		return fmt.Errorf("runner.backend %q is not one of subprocess, docker", cfg.Runner.Backend)
	}
	if cfg.Runner.Backend == "docker" && cfg.Runner.DockerImage == "" {
		return fmt.Errorf("runner.backend is docker but runner.docker_image is empty")
	}
	if cfg.Safety.MaxComplexity < 0 || cfg.Safety.MaxComplexity > 10 {
		return fmt.Errorf("safety.max_complexity %v out of range [0,10]", cfg.Safety.MaxComplexity)
	}
	if cfg.Safety.ApprovalTimeoutHrs < 0 {
		return fmt.Errorf("safety.approval_timeout_hours must not be negative")
	}

	if cfg.General.StateDB != "" {
		dir := ExpandHome(filepath.Dir(cfg.General.StateDB))
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			return fmt.Errorf("state_db parent path %q is not a directory", dir)
		}
	}

	if info, err := os.Stat(ExpandHome(cfg.General.Workspace)); err != nil {
		return fmt.Errorf("workspace %q does not exist: %w", cfg.General.Workspace, err)
	} else if !info.IsDir() {
		return fmt.Errorf("workspace %q is not a directory", cfg.General.Workspace)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
