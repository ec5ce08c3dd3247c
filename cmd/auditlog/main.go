// Package main は最近の監査イベントを表示するコマンドです。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/dbauth-demo/internal/audit"
	"github.com/yourusername/dbauth-demo/internal/config"
)

func main() {
	limit := flag.Int("n", 20, "表示件数")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.AuditRedisURL == "" {
		log.Fatal("AUDIT_REDIS_URL が設定されていません")
	}

	opt, err := redis.ParseURL(cfg.AuditRedisURL)
	if err != nil {
		log.Fatalf("Failed to parse AUDIT_REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	store := audit.NewStore(rdb, cfg.AuditRetention())
	events, err := store.Recent(context.Background(), *limit)
	if err != nil {
		log.Fatalf("Failed to read audit events: %v", err)
	}
	for _, e := range events {
		fmt.Printf("%s  %-16s %-20s %s\n", e.OccurredAt.Local().Format(time.RFC3339), e.Kind, e.Login, e.ClientIP)
	}
}
