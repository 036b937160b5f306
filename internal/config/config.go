/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config loads and validates the agent's config.json (spec §6).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ChainProfile describes one supported chain and what it can be used for.
type ChainProfile struct {
	CAIP2    string       `json:"caip2"`
	ChainID  string       `json:"chainId"`
	Name     string       `json:"name"`
	Supports ChainSupport `json:"supports"`
}

type ChainSupport struct {
	Identity   bool `json:"identity"`
	Reputation bool `json:"reputation"`
	Payments   bool `json:"payments"`
	Auth       bool `json:"auth"`
	Messaging  bool `json:"messaging"`
}

type BrainConfig struct {
	Model           string `json:"model"`
	APIURL          string `json:"apiUrl"`
	APIKeyEnv       string `json:"apiKeyEnv"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int64  `json:"maxOutputTokens"`
	TimeoutMs       int64  `json:"timeoutMs"`
	MaxRetries      int    `json:"maxRetries"`
	RetryBackoffMs  int64  `json:"retryBackoffMs"`
}

type AutonomyConfig struct {
	DefaultIntervalMs          int64 `json:"defaultIntervalMs"`
	MaxActionsPerTurn          int   `json:"maxActionsPerTurn"`
	MaxConsecutiveErrors       int   `json:"maxConsecutiveErrors"`
	MaxSleepMs                 int64 `json:"maxSleepMs"`
	MaxBrainFailuresBeforeStop int   `json:"maxBrainFailuresBeforeStop"`
	StrictActionAllowlist      bool  `json:"strictActionAllowlist"`
	AllowSelfModifyAction      bool  `json:"allowSelfModifyAction"`
	CronExpr                   string `json:"cronExpr,omitempty"`
}

type AlertingConfig struct {
	Enabled                  bool   `json:"enabled"`
	Route                    string `json:"route"`
	WebhookURL               string `json:"webhookUrl,omitempty"`
	WebhookSecret            string `json:"webhookSecret,omitempty"`
	CriticalIncidentThreshold int   `json:"criticalIncidentThreshold"`
	BrainFailureThreshold     int   `json:"brainFailureThreshold"`
	QueueDepthThreshold       int   `json:"queueDepthThreshold"`
	EvaluationWindowMinutes   int   `json:"evaluationWindowMinutes"`
}

type SurvivalConfig struct {
	LowComputeUSD int64 `json:"lowComputeUsd"`
	CriticalUSD   int64 `json:"criticalUsd"`
	DeadUSD       int64 `json:"deadUsd"`
}

type ToolingConfig struct {
	AllowExternalSources bool `json:"allowExternalSources"`
}

type ToolSource struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Type     string                 `json:"type"` // internal | api | mcp
	Enabled  bool                   `json:"enabled"`
	BaseURL  string                 `json:"baseUrl,omitempty"`
	AuthEnv  string                 `json:"authEnv,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type ConstitutionPolicy struct {
	ConstitutionPath string   `json:"constitutionPath"`
	LawsPath         string   `json:"lawsPath"`
	ProtectedPaths   []string `json:"protectedPaths"`
	HashAlgorithm    string   `json:"hashAlgorithm"`
}

// Config is the agent's full runtime configuration (spec §6).
type Config struct {
	HomeDir    string `json:"homeDir"`
	DataDir    string `json:"dataDir"`
	DBPath     string `json:"dbPath"`
	ConfigPath string `json:"configPath,omitempty"`

	ChainDefault  string         `json:"chainDefault"`
	ChainProfiles []ChainProfile `json:"chainProfiles"`

	Brain    BrainConfig    `json:"brain"`
	Autonomy AutonomyConfig `json:"autonomy"`
	Alerting AlertingConfig `json:"alerting"`
	Survival SurvivalConfig `json:"survival"`
	Tooling  ToolingConfig  `json:"tooling"`

	ToolSources    []ToolSource `json:"toolSources"`
	EnabledSkillIDs []string    `json:"enabledSkillIds"`

	ConstitutionPolicy ConstitutionPolicy `json:"constitutionPolicy"`

	WalletSessionTTLSec int64 `json:"walletSessionTtlSec"`
	HeartbeatIntervalMs int64 `json:"heartbeatIntervalMs"`
}

// ValidationIssue is one structured config diagnostic (spec §6).
type ValidationIssue struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Severity string `json:"severity"` // info | warning | error
	Message  string `json:"message"`
}

// HasErrors reports whether any issue is severity=error.
func HasErrors(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity == "error" {
			return true
		}
	}
	return false
}

// defaultPath returns <home>/config.json per the persistent home layout.
func defaultPath(homeDir string) string {
	return filepath.Join(homeDir, "config.json")
}

// Load reads and defaults config.json from the agent home directory.
func Load(homeDir string) (*Config, error) {
	path := defaultPath(homeDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default(homeDir)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ConfigPath = path
	applyDefaults(cfg, homeDir)
	return cfg, nil
}

// Default returns a config with every spec-mandated default populated.
func Default(homeDir string) *Config {
	cfg := &Config{}
	applyDefaults(cfg, homeDir)
	return cfg
}

func applyDefaults(cfg *Config, homeDir string) {
	if cfg.HomeDir == "" {
		cfg.HomeDir = homeDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.HomeDir, "data")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "state.db")
	}
	if cfg.Brain.TimeoutMs <= 0 {
		cfg.Brain.TimeoutMs = 30_000
	}
	if cfg.Brain.MaxRetries <= 0 {
		cfg.Brain.MaxRetries = 3
	}
	if cfg.Brain.RetryBackoffMs <= 0 {
		cfg.Brain.RetryBackoffMs = 500
	}
	if cfg.Brain.Temperature == 0 {
		cfg.Brain.Temperature = 0.3
	}
	if cfg.Brain.MaxOutputTokens <= 0 {
		cfg.Brain.MaxOutputTokens = 4096
	}
	if cfg.Autonomy.DefaultIntervalMs <= 0 {
		cfg.Autonomy.DefaultIntervalMs = 60_000
	}
	if cfg.Autonomy.MaxActionsPerTurn <= 0 {
		cfg.Autonomy.MaxActionsPerTurn = 10
	}
	if cfg.Autonomy.MaxConsecutiveErrors <= 0 {
		cfg.Autonomy.MaxConsecutiveErrors = 5
	}
	if cfg.Autonomy.MaxSleepMs <= 0 {
		cfg.Autonomy.MaxSleepMs = 3_600_000
	}
	if cfg.Autonomy.MaxBrainFailuresBeforeStop <= 0 {
		cfg.Autonomy.MaxBrainFailuresBeforeStop = 5
	}
	if cfg.Alerting.CriticalIncidentThreshold <= 0 {
		cfg.Alerting.CriticalIncidentThreshold = 1
	}
	if cfg.Alerting.BrainFailureThreshold <= 0 {
		cfg.Alerting.BrainFailureThreshold = 3
	}
	if cfg.Alerting.QueueDepthThreshold <= 0 {
		cfg.Alerting.QueueDepthThreshold = 50
	}
	if cfg.Alerting.EvaluationWindowMinutes <= 0 {
		cfg.Alerting.EvaluationWindowMinutes = 10
	}
	if cfg.Alerting.Route == "" {
		cfg.Alerting.Route = string(RouteDefault)
	}
	if cfg.ConstitutionPolicy.HashAlgorithm == "" {
		cfg.ConstitutionPolicy.HashAlgorithm = "sha256"
	}
	if cfg.ConstitutionPolicy.ConstitutionPath == "" {
		cfg.ConstitutionPolicy.ConstitutionPath = filepath.Join(cfg.HomeDir, "constitution.md")
	}
	if cfg.ConstitutionPolicy.LawsPath == "" {
		cfg.ConstitutionPolicy.LawsPath = filepath.Join(cfg.HomeDir, "laws.md")
	}
	if cfg.WalletSessionTTLSec < 60 {
		cfg.WalletSessionTTLSec = 900
	}
	if cfg.HeartbeatIntervalMs < 5000 {
		cfg.HeartbeatIntervalMs = cfg.Autonomy.DefaultIntervalMs
	}
	hasInternal := false
	for _, s := range cfg.ToolSources {
		if s.Type == "internal" && s.ID == "internal.runtime" {
			hasInternal = true
		}
	}
	if !hasInternal {
		cfg.ToolSources = append([]ToolSource{{
			ID: "internal.runtime", Name: "internal runtime", Type: "internal", Enabled: true,
		}}, cfg.ToolSources...)
	}
}

// RouteDefault is the alerting route used when config omits one.
const RouteDefault = "db"

// Validate checks the invariants spec §6 requires before startup and
// returns the full diagnostic list; any severity=error entry must prevent
// startup (see HasErrors).
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Brain.Model == "" {
		issues = append(issues, ValidationIssue{"brain.model", "CONFIG_INVALID", "error", "brain.model is required"})
	}
	if cfg.Brain.APIURL == "" {
		issues = append(issues, ValidationIssue{"brain.apiUrl", "CONFIG_INVALID", "error", "brain.apiUrl is required"})
	}
	if cfg.Brain.APIKeyEnv == "" {
		issues = append(issues, ValidationIssue{"brain.apiKeyEnv", "CONFIG_INVALID", "error", "brain.apiKeyEnv is required"})
	}
	if cfg.ChainDefault == "" {
		issues = append(issues, ValidationIssue{"chainDefault", "CONFIG_INVALID", "error", "chainDefault is required"})
	} else if !hasChain(cfg.ChainProfiles, cfg.ChainDefault) {
		issues = append(issues, ValidationIssue{"chainDefault", "CONFIG_INVALID", "error",
			fmt.Sprintf("chainDefault %q is not present in chainProfiles", cfg.ChainDefault)})
	}
	if !(cfg.Survival.LowComputeUSD >= cfg.Survival.CriticalUSD && cfg.Survival.CriticalUSD >= cfg.Survival.DeadUSD) {
		issues = append(issues, ValidationIssue{"survival", "CONFIG_INVALID", "error",
			"survival thresholds must satisfy lowComputeUsd >= criticalUsd >= deadUsd"})
	}
	if cfg.Alerting.Route == string(RouteWebhook) && cfg.Alerting.WebhookURL == "" {
		issues = append(issues, ValidationIssue{"alerting.webhookUrl", "CONFIG_INVALID", "error",
			"alerting.route=webhook requires alerting.webhookUrl"})
	}
	if cfg.WalletSessionTTLSec < 60 {
		issues = append(issues, ValidationIssue{"walletSessionTtlSec", "CONFIG_INVALID", "error",
			"walletSessionTtlSec must be at least 60"})
	}
	if cfg.HeartbeatIntervalMs < 5000 {
		issues = append(issues, ValidationIssue{"heartbeatIntervalMs", "CONFIG_INVALID", "error",
			"heartbeatIntervalMs must be at least 5000"})
	}

	seen := map[string]bool{}
	for _, s := range cfg.ToolSources {
		if seen[s.ID] {
			issues = append(issues, ValidationIssue{"toolSources", "CONFIG_INVALID", "error",
				fmt.Sprintf("duplicate toolSources id %q", s.ID)})
		}
		seen[s.ID] = true
	}
	if !seen["internal.runtime"] {
		issues = append(issues, ValidationIssue{"toolSources", "CONFIG_INVALID", "error",
			"internal.runtime tool source must be present"})
	}

	return issues
}

func hasChain(profiles []ChainProfile, caip2 string) bool {
	for _, p := range profiles {
		if p.CAIP2 == caip2 {
			return true
		}
	}
	return false
}

const (
	RouteWebhook = "webhook"
)
