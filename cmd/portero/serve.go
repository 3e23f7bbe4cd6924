package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andycufari/portero/internal/anonymize"
	"github.com/andycufari/portero/internal/approval"
	"github.com/andycufari/portero/internal/audit"
	"github.com/andycufari/portero/internal/auth"
	"github.com/andycufari/portero/internal/channels"
	"github.com/andycufari/portero/internal/channels/discord"
	"github.com/andycufari/portero/internal/channels/slack"
	"github.com/andycufari/portero/internal/channels/telegram"
	"github.com/andycufari/portero/internal/cleanup"
	"github.com/andycufari/portero/internal/config"
	"github.com/andycufari/portero/internal/executor"
	"github.com/andycufari/portero/internal/mcp"
	"github.com/andycufari/portero/internal/observability"
	"github.com/andycufari/portero/internal/pipeline"
	"github.com/andycufari/portero/internal/policy"
	"github.com/andycufari/portero/internal/registry"
	"github.com/andycufari/portero/internal/router"
	"github.com/andycufari/portero/internal/store"
	"github.com/andycufari/portero/internal/tasks"
)

// registryCacheTTL bounds how long the aggregator's tools/list snapshot is
// reused before it re-derives it from the mcp.Manager (spec §4.3).
const registryCacheTTL = 30 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Portero gateway server",
		Long: `Start the Portero gateway server.

The server will:
1. Load configuration (backends, replacements, policies) from the given file
2. Connect to every backend whose configuration fully resolved
3. Start the approval channel's configured chat transports, if any
4. Start the cleanup loop that prunes expired grants
5. Start the HTTP/WebSocket listener that speaks MCP to clients

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  portero serve

  # Start with a custom config
  portero serve --config /etc/portero/production.yaml

  # Start with debug logging
  portero serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "portero.yaml", "Path to YAML/JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting portero gateway", "version", version, "commit", commit, "config", configPath, "debug", debug)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	resolvedBackends, skipped := cfg.ResolvedBackends()
	for _, s := range skipped {
		logger.Warn("skipping backend with unresolved placeholder", "backend", s.ID, "placeholder", s.Placeholder)
	}

	metrics := observability.NewMetrics()

	dataStore := store.New(cfg.State.Dir)

	mcpServers := make([]*mcp.ServerConfig, 0, len(resolvedBackends))
	for i := range resolvedBackends {
		b := resolvedBackends[i]
		b.AutoStart = true
		mcpServers = append(mcpServers, &b)
	}
	mcpManager := mcp.NewManager(&mcp.Config{Enabled: true, Servers: mcpServers}, logger)
	if err := mcpManager.Start(ctx); err != nil {
		logger.Warn("one or more backends failed to connect at startup", "error", err)
	}

	reg := registry.New(mcpManager, registryCacheTTL)
	rtr := router.New(mcpManager)

	anonRules := make([]anonymize.Rule, 0, len(cfg.Replacements))
	for _, r := range cfg.Replacements {
		rule, err := r.ToRule()
		if err != nil {
			return fmt.Errorf("failed to load replacement rules: %w", err)
		}
		anonRules = append(anonRules, rule)
	}
	anonymizer := anonymize.New(anonRules)

	resolver := policy.New(dataStore.Rules(), cfg.Policies.ToStaticConfig())
	watcher := config.NewWatcher(configPath, func(p config.PolicyConfig) {
		resolver.SetStatic(p.ToStaticConfig())
	}, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("policy hot-reload disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	taskManager := tasks.New(dataStore.Tasks())

	auditLogger, err := audit.NewLogger(toAuditConfig(cfg.Audit))
	if err != nil {
		return fmt.Errorf("failed to start audit logger: %w", err)
	}
	defer auditLogger.Close()

	exec := executor.New(rtr, anonymizer, taskManager, auditLogger, logger, metrics)

	approvalCfg := approval.Config{
		PairingSecret: cfg.ApprovalChannel.PairingSecret,
		BatchWindow:   cfg.ApprovalChannel.BatchWindow,
		MaxPerFlush:   cfg.ApprovalChannel.MaxPerFlush,
	}
	approvalMgr := approval.New(approvalCfg, dataStore.Admin(), dataStore.Grants(), dataStore.Rules(), taskManager, exec, auditLogger, logger, metrics)
	registerTransports(approvalMgr, cfg.ApprovalChannel, logger)

	p := pipeline.New(pipeline.Deps{
		Registry:   reg,
		Router:     rtr,
		Anonymizer: anonymizer,
		Resolver:   resolver,
		Grants:     dataStore.Grants(),
		Tasks:      taskManager,
		Approval:   approvalMgr,
		Audit:      auditLogger,
		Metrics:    metrics,
		Logger:     logger,
	})

	gate := auth.New(cfg.Server.BearerToken)
	server := pipeline.NewServer(pipeline.ServerConfig{
		ListenAddr:   cfg.Server.ListenAddr,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, p, gate, logger)

	cleanupLoop := cleanup.New(dataStore.Grants(), cleanup.DefaultInterval, logger, metrics)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := approvalMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start approval channel: %w", err)
	}
	go cleanupLoop.Run(ctx)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP listener: %w", err)
	}

	logger.Info("portero gateway started", "listen_addr", cfg.Server.ListenAddr, "backends", len(resolvedBackends))

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("http listener shutdown error", "error", err)
	}
	if err := approvalMgr.Stop(shutdownCtx); err != nil {
		logger.Error("approval channel shutdown error", "error", err)
	}
	if err := mcpManager.Stop(); err != nil {
		logger.Error("backend manager shutdown error", "error", err)
	}

	logger.Info("portero gateway stopped gracefully")
	return nil
}

// toAuditConfig adapts the yaml-decodable config.AuditConfig mirror into
// the audit package's own Config, layering its fields over audit.DefaultConfig
// so a mostly-empty [audit] block still gets sane buffering/format defaults.
func toAuditConfig(c config.AuditConfig) audit.Config {
	cfg := audit.DefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.IncludeArguments = c.IncludeArguments
	if c.Output != "" {
		cfg.Output = c.Output
	}
	return cfg
}

// registerTransports wires every configured chat adapter into the approval
// manager. A missing or invalid sub-config simply omits that transport;
// the approval channel is optional per backend, not per gateway (spec §4.8:
// "zero or more transports").
func registerTransports(mgr *approval.Manager, cfg config.ApprovalChannelConfig, logger *slog.Logger) {
	if cfg.Slack != nil && cfg.Slack.BotToken != "" {
		mgr.RegisterTransport(slack.NewAdapter(slack.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
		}))
		logger.Info("registered approval transport", "channel", channels.ChannelSlack)
	}
	if cfg.Discord != nil && cfg.Discord.BotToken != "" {
		adapter, err := discord.NewAdapter(discord.Config{Token: cfg.Discord.BotToken, Logger: logger})
		if err != nil {
			logger.Error("failed to build discord transport", "error", err)
		} else {
			mgr.RegisterTransport(adapter)
			logger.Info("registered approval transport", "channel", channels.ChannelDiscord)
		}
	}
	if cfg.Telegram != nil && cfg.Telegram.BotToken != "" {
		adapter, err := telegram.NewAdapter(telegram.Config{Token: cfg.Telegram.BotToken})
		if err != nil {
			logger.Error("failed to build telegram transport", "error", err)
		} else {
			mgr.RegisterTransport(adapter)
			logger.Info("registered approval transport", "channel", channels.ChannelTelegram)
		}
	}
}
