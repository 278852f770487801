package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"productos/api/internal/app"
	"productos/api/internal/authpw"
	"productos/api/internal/chat"
	"productos/api/internal/config"
	"productos/api/internal/email"
	"productos/api/internal/files"
	"productos/api/internal/search"
	"productos/api/internal/security"
	"productos/api/internal/session"
	"productos/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// Datastore: Postgres when configured, the in-memory store otherwise.
	// The in-memory mode seeds a demo account so the app is usable at once.
	var (
		dataStore interface {
			app.DataStore
			authpw.UserStore
			authpw.SessionStore
		}
		pgfts *search.PgFTS
	)
	offline := strings.TrimSpace(cfg.DatabaseURL) == ""
	if offline {
		log.Printf("DATABASE_URL not set, using in-memory store")
		dataStore = store.NewMemoryStore()
	} else {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		dataStore = store.NewPostgresStore(db)
		pgfts = search.NewPgFTS(db)
	}

	// Redis backs refresh tokens, login counters, the audit trail, and chat
	// session persistence when configured.
	var (
		refreshStore authpw.SessionStore = dataStore
		counterStore security.CounterStore
		eventStore   security.EventStore
		chatStore    chat.SessionStore
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		refreshStore = redisStore
		counterStore = security.NewRedisCounterStore(redisStore.Client())
		eventStore = security.NewRedisEventStore(redisStore.Client())
		chatStore = chat.NewRedisSessionStore(redisStore.Client())
	} else {
		counterStore = security.NewMemoryCounterStore()
		eventStore = security.NewMemoryEventStore()
		chatStore = chat.NewMemorySessionStore()
	}

	limiter := security.NewLimiter(counterStore, cfg.LoginAttemptLimit, cfg.LoginLockout)
	audit := security.NewAuditLogger(eventStore)
	authService := authpw.NewService(dataStore, refreshStore, limiter, audit, cfg.TokenSecret, cfg.AccessTTL, cfg.RefreshTTL)

	if cfg.SMTPHost != "" && cfg.SMTPFrom != "" {
		authService.SetMailer(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			BaseURL:  cfg.AppBaseURL,
		}))
		log.Printf("Email verification enabled via %s", cfg.SMTPHost)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	var searchService app.Searcher
	if meiliClient != nil || pgfts != nil {
		searchService = search.NewService(meiliClient, pgfts)
	}

	var fileService app.FileStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		svc, err := files.NewService(ctx, files.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: attachment storage unavailable: %v", err)
		} else {
			fileService = svc
		}
	}

	var completer chat.Completer
	if strings.TrimSpace(cfg.OpenAIKey) != "" {
		completer = chat.NewOpenAICompleter(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	} else {
		log.Printf("OPENAI_API_KEY not set, chat assistant disabled")
	}

	service := app.New(cfg, dataStore, authService, searchService, fileService, chatStore, completer)
	if offline {
		service.EnableDemoSeed()
	}
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: chat responses stream for longer than any
		// fixed deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Product OS API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
