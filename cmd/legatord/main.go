/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Legator daemon — runs the autonomous runtime core's think-decide-act
// loop (spec §4.9) as a long-lived process, plus a localhost-only
// operator HTTP surface (health, metrics, incidents, emergency stop).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marcus-qen/legator/internal/brain"
	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/executor"
	"github.com/marcus-qen/legator/internal/httpapi"
	"github.com/marcus-qen/legator/internal/mcp"
	"github.com/marcus-qen/legator/internal/messaging"
	"github.com/marcus-qen/legator/internal/metrics"
	"github.com/marcus-qen/legator/internal/orchestrator"
	"github.com/marcus-qen/legator/internal/replicate"
	"github.com/marcus-qen/legator/internal/scheduler"
	"github.com/marcus-qen/legator/internal/selfmod"
	"github.com/marcus-qen/legator/internal/skill"
	"github.com/marcus-qen/legator/internal/state"
	"github.com/marcus-qen/legator/internal/survival"
	"github.com/marcus-qen/legator/internal/telemetry"
	"github.com/marcus-qen/legator/internal/tools"
	"github.com/marcus-qen/legator/internal/wallet"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	zapLog, err := zap.NewProduction(zap.AddCaller())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	if err := run(log); err != nil {
		log.Error(err, "fatal")
		os.Exit(1)
	}
}

func run(log logr.Logger) error {
	homeDir := os.Getenv("LEGATOR_HOME")
	if homeDir == "" {
		homeDir = "/var/lib/legator"
	}

	cfg, err := config.Load(homeDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if issues := config.Validate(cfg); config.HasErrors(issues) {
		for _, i := range issues {
			log.Info("config issue", "field", i.Field, "code", i.Code, "severity", i.Severity, "message", i.Message)
		}
		return fmt.Errorf("config validation failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if endpoint := os.Getenv("LEGATOR_OTLP_ENDPOINT"); endpoint != "" {
		shutdownTracing, err := telemetry.InitTraceProvider(ctx, endpoint, version)
		if err != nil {
			log.Info("tracing disabled: failed to init trace provider", "error", err)
		} else {
			defer func() { _ = shutdownTracing(context.Background()) }()
		}
	}

	store, err := state.Open(ctx, cfg.DBPath, log.WithName("store"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	agentAddress, err := wallet.ReadAddress(filepath.Join(cfg.HomeDir, "keystore.json"))
	if err != nil {
		log.Info("no keystore found yet, agent identity unresolved until wallet is provisioned", "error", err)
		agentAddress = "unprovisioned"
	}

	selfModEngine := selfmod.New(store, selfmod.Config{
		ProtectedPaths: cfg.ConstitutionPolicy.ProtectedPaths,
		ScopeRoots:     []string{cfg.HomeDir},
		DataDir:        cfg.DataDir,
	}, log.WithName("selfmod"))

	walletSession := wallet.New(filepath.Join(cfg.HomeDir, "keystore.json"), store, log.WithName("wallet"))

	brainClient := brain.New(brain.Config{
		Model:           cfg.Brain.Model,
		APIURL:          cfg.Brain.APIURL,
		APIKeyEnv:       cfg.Brain.APIKeyEnv,
		Temperature:     cfg.Brain.Temperature,
		MaxOutputTokens: int(cfg.Brain.MaxOutputTokens),
		TimeoutMs:       int(cfg.Brain.TimeoutMs),
		MaxRetries:      cfg.Brain.MaxRetries,
		RetryBackoffMs:  int(cfg.Brain.RetryBackoffMs),
	}, log.WithName("brain"))

	survivalMonitor := survival.New(store, cfg.Alerting, log.WithName("survival"))

	mcpManager := mcp.NewManager(log.WithName("mcp"))
	mcpManager.ConnectAll(ctx, cfg.ToolSources)
	defer mcpManager.Close()

	internalAdapter := tools.NewInternalAdapter(store, time.Now().UTC())
	toolRegistry := tools.New(cfg.ToolSources, cfg.Tooling, internalAdapter, mcpManager, log.WithName("tools"))

	messenger := messaging.NewStoreMessenger(store, agentAddress)
	replicator := replicate.New(store, cfg.DataDir, agentAddress, childKeystorePassphrase(), messenger, log.WithName("replicate"))

	exec := executor.New(cfg, walletSession, toolRegistry, messenger, replicator, selfModEngine, store, log.WithName("executor"))

	skillLoader := skill.NewLoader(filepath.Join(cfg.DataDir, "skills"))
	loadedSkills, failedSkills := skillLoader.LoadAll()
	for id, loadErr := range failedSkills {
		log.Info("skill load failed", "id", id, "error", loadErr)
	}
	enabledInstructions := selectEnabledSkills(loadedSkills, cfg.EnabledSkillIDs)

	var toolSourceIDs []string
	for _, ts := range cfg.ToolSources {
		if ts.Enabled {
			toolSourceIDs = append(toolSourceIDs, ts.ID)
		}
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:         store,
		Brain:         brainClient,
		Executor:      exec,
		Survival:      survivalMonitor,
		Transport:     nil,
		Config:        cfg,
		Log:           log.WithName("orchestrator"),
		Agent:         agentAddress,
		SystemPrompt:  defaultSystemPrompt,
		EstimateUSD:   estimateUSDFunc(ctx, store, cfg),
		DryRun:        os.Getenv("LEGATOR_DRY_RUN") == "true",
		Skills:        enabledInstructions,
		ToolSourceIDs: toolSourceIDs,
	})

	sched := scheduler.New(store, orch, scheduler.Config{
		DefaultIntervalMs:    cfg.Autonomy.DefaultIntervalMs,
		MaxSleepMs:           cfg.Autonomy.MaxSleepMs,
		MaxConsecutiveErrors: cfg.Autonomy.MaxConsecutiveErrors,
		CronExpr:             cfg.Autonomy.CronExpr,
	}, log.WithName("scheduler"))

	httpServer := httpapi.New("127.0.0.1:9190", version, store, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}), log.WithName("httpapi"))

	log.Info("legator daemon started", "version", version, "commit", commit, "date", date, "agent", agentAddress)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return httpServer.Run(gctx) })
	group.Go(func() error { return sched.Run(gctx) })

	if err := group.Wait(); err != nil {
		return fmt.Errorf("daemon exited: %w", err)
	}
	log.Info("legator daemon stopped")
	return nil
}

const defaultSystemPrompt = "You are an autonomous wallet-native agent. Use the available tools and skills to pursue your operator's goals within the action allowlist."

// estimateUSDFunc returns a closure reading an operator-settable balance
// override from the KV store (wallet_estimated_usd_override), falling
// back to just above the normal-tier threshold so a freshly provisioned
// agent starts out of survival mode. Live on-chain balance lookup and
// USD pricing are out of scope for the runtime core: the orchestrator
// takes this as an injected dependency precisely so a real price-feed
// integration can replace it without touching the tick loop.
func estimateUSDFunc(ctx context.Context, store interface {
	KVGet(ctx context.Context, key string) (string, bool, error)
}, cfg *config.Config) func() int64 {
	return func() int64 {
		if raw, ok, err := store.KVGet(ctx, "wallet_estimated_usd_override"); err == nil && ok {
			var v int64
			if _, scanErr := fmt.Sscanf(raw, "%d", &v); scanErr == nil {
				return v
			}
		}
		return cfg.Survival.LowComputeUSD + 1
	}
}

func selectEnabledSkills(loaded []*skill.Skill, enabledIDs []string) []string {
	enabledSet := make(map[string]bool, len(enabledIDs))
	for _, id := range enabledIDs {
		enabledSet[id] = true
	}
	var instructions []string
	for _, s := range loaded {
		if enabledSet[s.ID] || (len(enabledIDs) == 0 && s.Enabled) {
			instructions = append(instructions, s.Instructions)
		}
	}
	return instructions
}

func childKeystorePassphrase() string {
	if v := os.Getenv("LEGATOR_CHILD_KEYSTORE_PASSPHRASE"); v != "" {
		return v
	}
	return "legator-default-child-keystore-passphrase"
}
