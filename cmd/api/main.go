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

	"okrflow/api/internal/app"
	"okrflow/api/internal/archive"
	"okrflow/api/internal/config"
	"okrflow/api/internal/directory"
	"okrflow/api/internal/email"
	"okrflow/api/internal/notify"
	"okrflow/api/internal/report"
	"okrflow/api/internal/search"
	"okrflow/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgSearch := search.NewPgSearch(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgSearch)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var badge *notify.BadgeCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		badge, err = notify.NewBadgeCache(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, unread badges uncached: %v", err)
			badge = nil
		} else {
			log.Printf("Using Redis for unread notification badges")
			defer badge.Close()
		}
	}

	var archiver *archive.Uploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err = archive.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: minio unavailable, report exports not archived: %v", err)
			archiver = nil
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		BaseURL:  cfg.BaseURL,
	})
	if mailer.IsConfigured() {
		log.Printf("Email delivery enabled via %s", cfg.SMTPHost)
	}

	resolver := directory.NewResolver(dataStore)
	notifier := notify.New(dataStore, resolver, badge, mailer)
	reports := report.NewService(dataStore)

	service := app.New(cfg, dataStore, notifier, reports, searchService, badge, archiver)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("OKRFlow API listening on %s", cfg.Addr)
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
