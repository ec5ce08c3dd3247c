// Package main はアカウントを登録し権限を付与するコマンドです。
//
//	adduser -login moderator -password secret -perm public,protected
//	adduser -login admin -password secret -superuser
//	adduser -login moderator -disable
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourusername/dbauth-demo/internal/config"
	"github.com/yourusername/dbauth-demo/internal/users"
)

func main() {
	login := flag.String("login", "", "ログイン名")
	password := flag.String("password", "", "パスワード")
	superuser := flag.Bool("superuser", false, "全ての権限を持つユーザーとして登録する")
	perms := flag.String("perm", "", "付与する権限（カンマ区切り）")
	disable := flag.Bool("disable", false, "既存ユーザーを無効化する")
	flag.Parse()

	if *login == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	store := users.NewPostgresStore(pool, log.Default())
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("%v", err)
	}

	if *disable {
		if err := store.SetDisabled(ctx, *login, true); err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Printf("disabled %s\n", *login)
		return
	}

	hash, err := users.HashPassword(*password)
	if err != nil {
		log.Fatalf("%v", err)
	}
	id, err := store.CreateUser(ctx, *login, hash, *superuser)
	if err != nil {
		log.Fatalf("%v", err)
	}

	for _, perm := range strings.Split(*perms, ",") {
		perm = strings.TrimSpace(perm)
		if perm == "" {
			continue
		}
		if err := store.GrantPermission(ctx, id, perm); err != nil {
			log.Fatalf("%v", err)
		}
	}
	fmt.Printf("created %s (id=%d)\n", *login, id)
}
