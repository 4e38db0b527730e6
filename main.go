package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"worktime-monitor/internal/config"
	"worktime-monitor/internal/db"
	"worktime-monitor/internal/logging"
	"worktime-monitor/internal/monitor"
	"worktime-monitor/internal/redis"
	"worktime-monitor/internal/timedoctor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_service", "service", "worktime-monitor", "api_base_url", cfg.APIBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// optional collaborators: the worker runs fine with just the file cache
	var redisClient *redis.Client
	if cfg.RedisDSN != "" {
		redisClient, err = redis.New(cfg.RedisDSN)
		if err != nil {
			logger.Error("redis_connect_failed", "error", err)
			os.Exit(1)
		}
	}

	var dbConn *db.DB
	if cfg.DBDSN != "" {
		dbConn, err = db.New(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db_connect_failed", "error", err)
			os.Exit(1)
		}
	}

	var store timedoctor.CredentialStore
	switch {
	case dbConn != nil:
		store = timedoctor.NewPostgresStore(dbConn)
		logger.Info("credential_store_selected", "store", "postgres")
	case redisClient != nil:
		store = timedoctor.NewRedisStore(redisClient)
		logger.Info("credential_store_selected", "store", "redis")
	default:
		store = timedoctor.NewFileStore(cfg.CredentialCacheFile)
		logger.Info("credential_store_selected", "store", "file", "path", cfg.CredentialCacheFile)
	}

	auth := timedoctor.NewAuthManager(logger, store, timedoctor.AuthConfig{
		BaseURL:     cfg.APIBaseURL,
		Email:       cfg.Email,
		Password:    cfg.Password,
		TOTPCode:    cfg.TOTPCode,
		Permissions: cfg.Permissions,
		CompanyName: cfg.CompanyName,
	})

	client := timedoctor.NewClientWithOptions(logger, auth, timedoctor.ClientOptions{
		PageDelay: cfg.PageDelay,
	})

	var cache timedoctor.Cache
	if redisClient != nil {
		cache = redisClient
	}
	resolver := timedoctor.NewResolver(logger, client, cache)

	// verify configuration before entering the sweep loop; a bad company
	// name fails here with the full list of valid ones
	if _, err := auth.GetCredential(ctx); err != nil {
		logger.Error("initial_authentication_failed", "error", err)
		os.Exit(1)
	}

	sweeper := monitor.NewSweeper(logger, client, resolver, cfg.SweepInterval)
	go sweeper.Start()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")
	sweeper.Stop()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis_close_error", "error", err)
		}
	}
	if dbConn != nil {
		dbConn.Close()
	}

	logger.Info("stopped")
}
