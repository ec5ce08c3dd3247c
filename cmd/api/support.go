package main

import (
	"log"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/dbauth-demo/internal/audit"
	"github.com/yourusername/dbauth-demo/internal/auth"
	"github.com/yourusername/dbauth-demo/internal/config"
	"github.com/yourusername/dbauth-demo/internal/session"
)

func setupIdentityPolicy(cfg *config.Config, lifetime session.Lifetime) (auth.IdentityPolicy, func(), error) {
	if cfg.SessionBackend != config.SessionBackendRedis {
		return session.NewCookiePolicy(lifetime, secureCookie(cfg)), func() {}, nil
	}

	opt, err := redis.ParseURL(cfg.SessionRedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opt)
	return session.NewRedisPolicy(rdb, lifetime, secureCookie(cfg)), func() { _ = rdb.Close() }, nil
}

func secureCookie(cfg *config.Config) bool {
	return cfg.GinMode == gin.ReleaseMode
}

func setupAudit(cfg *config.Config, logger *log.Logger) (audit.Recorder, func(), error) {
	if cfg.AuditRedisURL == "" {
		return audit.Nop{}, func() {}, nil
	}

	opt, err := redis.ParseURL(cfg.AuditRedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opt)
	store := audit.NewStore(rdb, cfg.AuditRetention())
	manager, err := audit.NewManager(cfg.AuditRedisURL, store, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	manager.StartWorkers()

	return manager, func() {
		if err := manager.Shutdown(); err != nil {
			logger.Printf("failed to shut down audit manager: %v", err)
		}
		_ = rdb.Close()
	}, nil
}
