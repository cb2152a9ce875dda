// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Command voice-api runs the call engine: the HTTP/WebSocket surface, the
// optional SIP user agent, and the per-call AI pipeline behind them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	internal_recorder "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/audio/recorder"
	internal_bridge "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/bridge"
	internal_storage "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/storage"
	internal_store "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/store"
	internal_twilio_telephony "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/telephony/twilio"
	voice_routers "github.com/codevamp-f2fintech/ai-server/api/voice-api/router"
	sip_infra "github.com/codevamp-f2fintech/ai-server/api/voice-api/sip/infra"
	"github.com/codevamp-f2fintech/ai-server/config"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voice-api: %v\n", err)
		return 1
	}

	logger, err := commons.NewApplicationLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voice-api: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ====================================================================
	// Persistence and recording
	// ====================================================================

	db, err := openDatabase(cfg, logger)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		return 1
	}

	callStore, err := internal_store.NewCallStore(db, logger)
	if err != nil {
		logger.Error("Failed to initialize call store", "error", err)
		return 1
	}
	agentStore, err := internal_store.NewAgentStore(db, logger)
	if err != nil {
		logger.Error("Failed to initialize agent store", "error", err)
		return 1
	}

	uploader, err := internal_storage.NewS3Uploader(logger, internal_storage.S3Config{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Bucket:          cfg.AWSS3Bucket,
	})
	if err != nil {
		logger.Error("Failed to initialize recording storage", "error", err)
		return 1
	}
	if uploader == nil {
		logger.Info("Call recording disabled: no S3 bucket configured")
	}
	recorder := internal_recorder.NewRegistry(logger, uploader)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	// ====================================================================
	// SIP trunk (optional: hosted-only deployments leave it unset)
	// ====================================================================

	var (
		sipServer *sip_infra.Server
		allocator sip_infra.PortAllocator
		dialer    internal_bridge.Dialer
	)
	if cfg.SIPServer != "" {
		sipCfg := sip_infra.Config{
			Server:   cfg.SIPServer,
			Username: cfg.SIPUsername,
			Password: cfg.SIPPassword,
			Realm:    cfg.SIPRealm,
			Domain:   cfg.SIPServer,
		}
		sipCfg.ApplyOperationalDefaults(0, sip_infra.Transport(cfg.SIPTransport),
			cfg.RTPPortRangeStart, cfg.RTPPortRangeEnd, cfg.CountryCodePrefix)
		if err := sipCfg.Validate(); err != nil {
			logger.Error("Invalid SIP configuration", "error", err)
			return 1
		}

		allocator = sip_infra.NewPortAllocator(redisClient, logger, cfg.RTPPortRangeStart, cfg.RTPPortRangeEnd)
		if err := allocator.Init(ctx); err != nil {
			logger.Error("Failed to initialize RTP port pool", "error", err)
			return 1
		}

		resolver := sip_infra.NewPublicIPResolver(logger, cfg.PublicIPEndpoint)
		sipServer, err = sip_infra.NewServer(logger, sipCfg, resolver, allocator, cfg.SIPPort)
		if err != nil {
			logger.Error("Failed to start SIP user agent", "error", err)
			return 1
		}
		dialer = internal_bridge.SIPDialer{Server: sipServer}
	} else {
		logger.Info("SIP trunk disabled: SIP_SERVER not set, running hosted-only")
	}

	// ====================================================================
	// Bridge and HTTP surface
	// ====================================================================

	bridge := internal_bridge.New(logger, callStore, recorder, dialer, agentStore,
		internal_bridge.Keys{
			Deepgram:   cfg.DeepgramAPIKey,
			OpenAI:     cfg.OpenAIAPIKey,
			Anthropic:  cfg.AnthropicAPIKey,
			ElevenLabs: cfg.ElevenLabsAPIKey,
		},
		internal_bridge.Defaults{
			SilenceTimeoutSeconds: cfg.SilenceTimeoutSeconds,
			MaxDurationSeconds:    cfg.MaxDurationSeconds,
		})

	var originator voice_routers.Originator
	if cfg.TwilioAccountSID != "" {
		o, err := internal_twilio_telephony.NewOriginator(logger,
			cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.PublicBaseURL)
		if err != nil {
			logger.Error("Invalid hosted telephony configuration", "error", err)
			return 1
		}
		originator = o
	}

	engine := voice_routers.New(logger, voice_routers.Deps{
		Engine:     bridge,
		Store:      callStore,
		Originator: originator,
		SIPEnabled: sipServer != nil,
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: engine,
	}

	// ====================================================================
	// Run until signaled
	// ====================================================================

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if sipServer != nil {
		g.Go(func() error {
			logger.Info("SIP user agent listening", "port", cfg.SIPPort, "trunk", cfg.SIPServer)
			if err := sipServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("sip server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			regCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if err := sipServer.Register(regCtx); err != nil {
				return fmt.Errorf("trunk registration: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		if sipServer != nil {
			sipServer.Close()
			allocator.ReleaseAll(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service exited with error", "error", err)
		return 1
	}
	logger.Info("Service stopped")
	return 0
}

// openDatabase connects to Postgres, falling back to a local SQLite file for
// development when no DSN is configured.
func openDatabase(cfg *config.Config, logger commons.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if cfg.PostgresDSN != "" {
		return gorm.Open(postgres.Open(cfg.PostgresDSN), gormCfg)
	}
	logger.Warn("POSTGRES_DSN not set, using local sqlite file voice-api.db")
	return gorm.Open(sqlite.Open("voice-api.db"), gormCfg)
}
