// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/meshbridge/bridge"
	"github.com/bureau-foundation/meshbridge/discord"
	"github.com/bureau-foundation/meshbridge/lib/config"
	"github.com/bureau-foundation/meshbridge/lib/ratelimit"
	"github.com/bureau-foundation/meshbridge/lib/sealed"
	"github.com/bureau-foundation/meshbridge/lib/secret"
	"github.com/bureau-foundation/meshbridge/lib/version"
	"github.com/bureau-foundation/meshbridge/meshcore"
	"github.com/bureau-foundation/meshbridge/supervisor"
)

func runBridge(args []string, std streams) error {
	var configPath string
	flagSet := pflag.NewFlagSet("meshbridge", pflag.ContinueOnError)
	flagSet.SetOutput(std.stderr)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file (default: $"+config.EnvironmentVariable+")")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printUsage(std.stdout)
			return nil
		}
		return configError("%w", err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return configError("invalid configuration:\n%w", err)
	}

	logger, closeLog, err := newLogger(cfg.Logging, std.stderr)
	if err != nil {
		return configError("logging: %w", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	token, err := loadToken(cfg.Discord)
	if err != nil {
		return configError("discord token: %w", err)
	}
	defer token.Close()
	if !token.Locked() {
		logger.Warn("bot token memory could not be locked; it may be swapped to disk")
	}

	b, err := buildBridge(cfg, token, logger)
	if err != nil {
		return configError("%w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("meshbridge starting",
		"version", version.Info(),
		"meshcore", fmt.Sprintf("%s:%d", cfg.MeshCore.Host, cfg.MeshCore.Port),
		"control_socket", cfg.Control.SocketPath,
	)
	if err := b.Run(ctx); err != nil {
		return &exitError{code: exitFatal, err: err}
	}
	return nil
}

// loadConfig reads path, or $MESHBRIDGE_CONFIG when path is empty.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, configError("%w", err)
	}
	return cfg, nil
}

// loadToken returns the bot token from discord.token or
// discord.token_file. The caller closes it.
func loadToken(settings config.DiscordConfig) (*secret.Buffer, error) {
	if settings.Token != "" {
		return secret.NewFromString(settings.Token)
	}
	return sealed.ReadToken(settings.TokenFile, settings.IdentityFile)
}

func buildBridge(cfg *config.Config, token *secret.Buffer, logger *slog.Logger) (*bridge.Bridge, error) {
	channels, err := cfg.ChannelMap()
	if err != nil {
		return nil, err
	}

	link, err := meshcore.New(meshcore.Config{
		Host:         cfg.MeshCore.Host,
		Port:         cfg.MeshCore.Port,
		Channels:     channels,
		SyncInterval: cfg.MeshCore.SyncInterval,
		Logger:       logger.With("link", bridge.MeshLinkName),
	})
	if err != nil {
		return nil, err
	}

	client, err := discord.NewClient(discord.ClientConfig{
		APIBase: cfg.Discord.APIBase,
		Token:   token,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	gateway, err := discord.NewGateway(discord.GatewayConfig{
		Client:   client,
		Channels: channels,
		Compress: cfg.Discord.Compress,
		Logger:   logger.With("link", bridge.GatewayLinkName),
	})
	if err != nil {
		return nil, err
	}

	return bridge.New(bridge.Config{
		Channels:      channels,
		MeshPolicy:    policy(cfg.MeshCore.Reconnect),
		GatewayPolicy: policy(cfg.Discord.Reconnect),
		Rate: ratelimit.Config{
			Capacity:       cfg.Discord.Rate.Capacity,
			RefillInterval: cfg.Discord.Rate.RefillInterval,
			MaxWait:        cfg.Discord.Rate.MaxWait,
		},
		QueueSize:     cfg.Bridge.QueueSize,
		ShutdownGrace: cfg.Bridge.ShutdownGrace,
		StatsInterval: cfg.Bridge.StatsInterval,
		RelayToMesh:   cfg.Bridge.RelayToMesh,
		ControlSocket: cfg.Control.SocketPath,
		Logger:        logger,
	}, bridge.LinkDependencies(link, gateway, client))
}

func policy(reconnect config.ReconnectConfig) supervisor.Policy {
	return supervisor.Policy{
		Initial: reconnect.Initial,
		Max:     reconnect.Max,
		Jitter:  reconnect.Jitter,
	}
}
