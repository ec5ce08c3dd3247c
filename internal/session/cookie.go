// Package session はリクエストのセッションにログイン中のユーザーを保持する仕組みを提供します。
package session

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	CookieName           = "dbauth_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
)

// Lifetime はセッションの有効期限設定です。
type Lifetime struct {
	MaxLifetime time.Duration // ログインからの最大有効期間
	IdleTimeout time.Duration // 無操作タイムアウト
}

// CookieOptions は gin-contrib/sessions のストアに設定するオプションを返します。
func CookieOptions(lifetime Lifetime, secure bool) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   int(lifetime.MaxLifetime.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// expiredOptions は CookieOptions と同じ属性で即時失効させるオプションを返します。
func expiredOptions(lifetime Lifetime, secure bool) sessions.Options {
	opts := CookieOptions(lifetime, secure)
	opts.MaxAge = -1
	return opts
}

// CookiePolicy は署名付きCookieセッションにユーザー名を保存します。
type CookiePolicy struct {
	lifetime Lifetime
	secure   bool
	now      func() time.Time
}

// NewCookiePolicy は CookiePolicy を作成します。
func NewCookiePolicy(lifetime Lifetime, secure bool) *CookiePolicy {
	return &CookiePolicy{
		lifetime: lifetime,
		secure:   secure,
		now:      time.Now,
	}
}

// Identify はセッションからユーザー名を取り出します。
// 有効期限切れのセッションは破棄し、空文字を返します。
func (p *CookiePolicy) Identify(c *gin.Context) (string, error) {
	session := sessions.Default(c)
	user, ok := session.Get(sessionKeyUser).(string)
	if !ok || user == "" {
		return "", nil
	}

	now := p.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))

	if issuedAt.IsZero() || now.Sub(issuedAt) > p.lifetime.MaxLifetime {
		session.Clear()
		return "", session.Save()
	}
	if lastActive.IsZero() || now.Sub(lastActive) > p.lifetime.IdleTimeout {
		session.Clear()
		return "", session.Save()
	}

	session.Set(sessionKeyLastActive, now.Unix())
	if err := session.Save(); err != nil {
		return "", err
	}
	return user, nil
}

// Remember はユーザー名をセッションに保存します。
func (p *CookiePolicy) Remember(c *gin.Context, identity string) error {
	session := sessions.Default(c)
	now := p.now()
	session.Clear()
	session.Set(sessionKeyUser, identity)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	return session.Save()
}

// Forget はセッションを破棄します。
func (p *CookiePolicy) Forget(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	session.Options(expiredOptions(p.lifetime, p.secure))
	return session.Save()
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
