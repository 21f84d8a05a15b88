// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

// Package main is the entry point for the chatsync client daemon.
//
// Chatsync keeps a local chat view synchronized with a chat backend over
// two channels: a REST API as the source of truth for rooms and message
// durability, and a websocket stream for low-latency pushes (new messages,
// typing indicators, read receipts, presence). Stream loss degrades the
// client to manual-refresh behavior; it never blocks commands.
//
// # Application Architecture
//
// Components initialize in the following order:
//
//  1. Configuration: layered load via Koanf v2 (defaults, config file,
//     CHATSYNC_* environment variables)
//  2. Logging: zerolog, console or JSON format
//  3. REST client: bearer-token API client, optionally wrapped in a
//     circuit breaker
//  4. State store: rooms, messages, unread counters, typing sets
//  5. Transport manager: websocket connect/reconnect state machine
//  6. Event router: dispatches inbound frames to the store
//  7. Supervisor tree: runs the stream loop and the periodic REST
//     refreshers under suture supervision
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (CHATSYNC_ prefix)
//   - Config file (config.yaml, or CONFIG_PATH override)
//   - Built-in defaults
//
// Required settings:
//   - CHATSYNC_API_BASE_URL: REST API root, e.g. https://chat.example.com/api
//   - CHATSYNC_STREAM_URL: websocket endpoint, e.g. https://chat.example.com/ws
//   - CHATSYNC_API_TOKEN: bearer token (without it the stream stays down
//     and REST calls go out unauthenticated)
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the websocket closes with
// a normal-closure frame, the supervisor tree drains, and unstopped
// services are reported.
//
// # Example Usage
//
//	export CHATSYNC_API_BASE_URL=https://chat.example.com/api
//	export CHATSYNC_STREAM_URL=https://chat.example.com/ws
//	export CHATSYNC_API_TOKEN=your-bearer-token
//	export CHATSYNC_CHAT_SELF_ID=your-user-id
//	./chatsync
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/chatsync/internal/api"
	"github.com/tomtom215/chatsync/internal/config"
	"github.com/tomtom215/chatsync/internal/logging"
	"github.com/tomtom215/chatsync/internal/router"
	"github.com/tomtom215/chatsync/internal/store"
	"github.com/tomtom215/chatsync/internal/supervisor"
	"github.com/tomtom215/chatsync/internal/supervisor/services"
	"github.com/tomtom215/chatsync/internal/transport"
	"github.com/tomtom215/chatsync/internal/typing"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("api_base_url", cfg.API.BaseURL).
		Str("stream_url", cfg.Stream.URL).
		Bool("breaker_enabled", cfg.API.BreakerEnabled).
		Msg("Starting chatsync")

	// The token provider is re-read on every REST request and every stream
	// (re)connect, so a rotated token takes effect without a restart.
	token := func() string { return cfg.API.Token }

	var client api.Client = api.NewRESTClient(cfg.API.BaseURL, token, cfg.API.Timeout)
	if cfg.API.BreakerEnabled {
		client = api.NewBreakerClient(client)
		logging.Info().Msg("REST circuit breaker enabled")
	}

	tracker := typing.NewTracker(cfg.Chat.TypingExpiry, cfg.Chat.TypingDebounce)

	manager := transport.NewManager(transport.Config{
		URL:                  cfg.Stream.URL,
		HandshakeTimeout:     cfg.Stream.HandshakeTimeout,
		PingInterval:         cfg.Stream.PingInterval,
		ReconnectInterval:    cfg.Stream.ReconnectInterval,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, token)

	chatStore := store.New(client, manager, tracker, store.Options{
		SelfID:             cfg.Chat.SelfID,
		EchoSuppressWindow: cfg.Chat.EchoSuppressWindow,
		HistoryPageSize:    cfg.Chat.HistoryPageSize,
	})

	frameRouter := router.New(chatStore)
	manager.OnFrame(frameRouter.Dispatch)
	manager.OnConnect(chatStore.OnStreamConnected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddStreamService(services.NewStreamService(manager))
	tree.AddMaintenanceService(services.NewRefreshService(
		"room-refresher", cfg.Chat.RefreshInterval, chatStore.RefreshRooms))
	tree.AddMaintenanceService(services.NewRefreshService(
		"unread-refresher", cfg.Chat.RefreshInterval, chatStore.RefreshUnread))

	errCh := tree.ServeBackground(ctx)
	manager.Connect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")

		// Intentional disconnect sends a normal-closure frame and
		// suppresses the reconnect loop before the tree tears the serve
		// loop down.
		manager.Disconnect(true)
		cancel()

		select {
		case <-errCh:
		case <-time.After(15 * time.Second):
			if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
				for _, svc := range report {
					logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
				}
			}
		}

	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
		}
		manager.Disconnect(true)
	}

	logging.Info().Msg("Shutdown complete")
}
