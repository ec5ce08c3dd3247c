package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyToken = "sid"
	tokenKeyPrefix  = "session:"

	fieldIdentity = "identity"
	fieldIssuedAt = "issued_at"
)

// RedisPolicy はCookieには不透明なトークンだけを保存し、
// トークンとユーザー名の対応を Redis のハッシュに保持します。
type RedisPolicy struct {
	rdb      *redis.Client
	lifetime Lifetime
	secure   bool
	now      func() time.Time
}

// NewRedisPolicy は RedisPolicy を作成します。
func NewRedisPolicy(rdb *redis.Client, lifetime Lifetime, secure bool) *RedisPolicy {
	return &RedisPolicy{
		rdb:      rdb,
		lifetime: lifetime,
		secure:   secure,
		now:      time.Now,
	}
}

// Identify はトークンに紐づくユーザー名を返し、無操作タイムアウトを延長します。
// ログインから MaxLifetime を過ぎたトークンは削除します。
func (p *RedisPolicy) Identify(c *gin.Context) (string, error) {
	session := sessions.Default(c)
	token, ok := session.Get(sessionKeyToken).(string)
	if !ok || token == "" {
		return "", nil
	}

	ctx := c.Request.Context()
	key := tokenKey(token)
	fields, err := p.rdb.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to read session: %w", err)
	}
	user := fields[fieldIdentity]
	if user == "" {
		session.Delete(sessionKeyToken)
		return "", session.Save()
	}

	issuedUnix, err := strconv.ParseInt(fields[fieldIssuedAt], 10, 64)
	remaining := p.lifetime.MaxLifetime - p.now().Sub(time.Unix(issuedUnix, 0))
	if err != nil || (p.lifetime.MaxLifetime > 0 && remaining <= 0) {
		if err := p.rdb.Del(ctx, key).Err(); err != nil {
			return "", fmt.Errorf("failed to delete session: %w", err)
		}
		session.Clear()
		return "", session.Save()
	}

	ttl := p.idleTTL()
	if p.lifetime.MaxLifetime > 0 && remaining < ttl {
		ttl = remaining
	}
	if err := p.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to refresh session: %w", err)
	}
	return user, nil
}

// Remember は新しいトークンを発行し、ユーザー名と紐づけます。
func (p *RedisPolicy) Remember(c *gin.Context, identity string) error {
	session := sessions.Default(c)
	ctx := c.Request.Context()

	// ログインごとにトークンを発行し直す
	if old, ok := session.Get(sessionKeyToken).(string); ok && old != "" {
		if err := p.rdb.Del(ctx, tokenKey(old)).Err(); err != nil {
			return fmt.Errorf("failed to drop previous session: %w", err)
		}
	}

	token := uuid.NewString()
	key := tokenKey(token)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldIdentity, identity, fieldIssuedAt, p.now().Unix())
	pipe.Expire(ctx, key, p.idleTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	session.Set(sessionKeyToken, token)
	return session.Save()
}

// Forget は Redis 上のトークンとCookieセッションを破棄します。
func (p *RedisPolicy) Forget(c *gin.Context) error {
	session := sessions.Default(c)
	if token, ok := session.Get(sessionKeyToken).(string); ok && token != "" {
		if err := p.rdb.Del(c.Request.Context(), tokenKey(token)).Err(); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	session.Clear()
	session.Options(expiredOptions(p.lifetime, p.secure))
	return session.Save()
}

func (p *RedisPolicy) idleTTL() time.Duration {
	if p.lifetime.IdleTimeout <= 0 {
		return 30 * time.Minute
	}
	return p.lifetime.IdleTimeout
}

func tokenKey(token string) string {
	return tokenKeyPrefix + token
}
