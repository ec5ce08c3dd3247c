// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourusername/dbauth-demo/internal/auth"
	"github.com/yourusername/dbauth-demo/internal/config"
	"github.com/yourusername/dbauth-demo/internal/session"
	"github.com/yourusername/dbauth-demo/internal/users"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gin.SetMode(cfg.GinMode)
	logger := log.Default()

	// アカウントDBへの接続
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	store := users.NewPostgresStore(pool, logger)
	defer store.Close()

	lifetime := session.Lifetime{
		MaxLifetime: cfg.SessionMaxLifetime(),
		IdleTimeout: cfg.SessionIdleTimeout(),
	}
	identity, closeIdentity, err := setupIdentityPolicy(cfg, lifetime)
	if err != nil {
		log.Fatalf("Failed to set up sessions: %v", err)
	}
	defer closeIdentity()

	recorder, shutdownAudit, err := setupAudit(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up audit: %v", err)
	}
	defer shutdownAudit()

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（redis バックエンドの場合Cookieにはトークンのみ保存する）
	cookieStore := cookie.NewStore([]byte(cfg.SessionSecret))
	cookieStore.Options(session.CookieOptions(lifetime, secureCookie(cfg)))
	router.Use(sessions.Sessions(session.CookieName, cookieStore))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.Use(auth.UseStore(store))

	policy, err := users.NewPolicy(store)
	if err != nil {
		log.Fatalf("Failed to create policy: %v", err)
	}
	security, err := auth.NewSecurity(identity, policy)
	if err != nil {
		log.Fatalf("Failed to create security: %v", err)
	}
	web, err := auth.NewWeb(security, security, security, auth.WebOptions{
		Limiter: auth.NewLoginLimiter(cfg.LoginMaxAttempts, cfg.LoginWindow(), cfg.LoginLockDuration()),
		Auditor: recorder,
	})
	if err != nil {
		log.Fatalf("Failed to create handlers: %v", err)
	}

	router.GET("/health", handleHealth)
	web.Configure(router)

	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s, sessions: %s)", addr, cfg.GinMode, cfg.SessionBackend)
	if err := router.Run(addr); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "dbauth-demo",
	})
}
