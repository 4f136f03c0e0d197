package main

import (
	"log"
	"net/http"
	"time"

	"herlink/internal/app"
	"herlink/internal/config"
	"herlink/internal/presence"
	"herlink/internal/ratelimit"
	"herlink/internal/relay"
	"herlink/internal/server"
	"herlink/internal/usertoken"
	"herlink/internal/util"
	"herlink/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "messaging")

	tokens, err := usertoken.New(usertoken.Config{Secret: cfg.JWTSecret})
	if err != nil {
		log.Fatalf("failed to init token authority: %v", err)
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
	} else {
		logger.Warn("no database configured, using in-memory store")
		st = store.NewMemoryStore()
	}

	var limiter app.Limiter
	if cfg.SendRateLimit > 0 {
		l, err := ratelimit.New(ratelimit.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			Limit:    cfg.SendRateLimit,
			Window:   time.Duration(cfg.SendRateWindowSeconds) * time.Second,
		})
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		limiter = l
	}

	appCore, err := app.New(app.Config{
		Store:   st,
		Tokens:  tokens,
		Limiter: limiter,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	hub := relay.NewHub(logger, presence.NewRegistry(), tokens)
	hub.BindSender(appCore)
	appCore.BindNotifier(hub)

	httpServer := server.New(server.Config{
		App: appCore,
		Hub: hub,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	logger.Info("messaging server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
