package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"corkboard/internal/access"
	"corkboard/internal/app"
	"corkboard/internal/attachments"
	"corkboard/internal/config"
	"corkboard/internal/logging"
	"corkboard/internal/realtime"
	"corkboard/internal/search"
	"corkboard/internal/session"
	"corkboard/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and realtime stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Addr = serveAddr
		}
		logging.Init(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides API_ADDR")
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store.NewPostgresStore(db), func() { db.Close() }, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.WithComponent("main")

	dataStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	resolver := access.TokenResolver{Secret: []byte(cfg.JWTSecret), Store: dataStore}
	gate := access.NewGate(dataStore, resolver)

	hub := realtime.NewHub(gate, realtime.Options{
		Heartbeat:     cfg.RealtimeHeartbeat,
		SweepInterval: 30 * time.Second,
	})
	hub.Start()
	defer hub.Close()

	if cfg.RealtimeRelay {
		relay, err := realtime.OpenRelay(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("realtime relay: %w", err)
		}
		if err := relay.Start(ctx, hub); err != nil {
			_ = relay.Close()
			return fmt.Errorf("realtime relay: %w", err)
		}
		defer relay.Close()
		logger.Info().Str("instance_id", hub.InstanceID()).Msg("realtime relay attached")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meili, search.StoreSearcher{Store: dataStore})
	defer searchService.Close()
	if meili != nil {
		go searchService.ReindexFromStore(context.WithoutCancel(ctx), dataStore)
	}

	files, err := attachments.New(attachments.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("attachments: %w", err)
	}
	if minioStore, ok := files.(*attachments.MinioStore); ok {
		if err := minioStore.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("attachment bucket unavailable")
		}
	}

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisSessions.Close()
		sessions = redisSessions
		logger.Info().Msg("using redis for refresh sessions")
	}

	service := app.New(cfg, app.Deps{
		Store:       dataStore,
		Gate:        gate,
		Resolver:    resolver,
		Hub:         hub,
		Sessions:    sessions,
		Search:      searchService,
		Attachments: files,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("corkboard listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Streams only end once the hub closes their connections.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	return nil
}
