// Package auth はログイン/ログアウトと権限付きページのハンドラーを提供します。
package auth

import (
	"errors"
	"html/template"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/dbauth-demo/internal/audit"
	"github.com/yourusername/dbauth-demo/internal/users"
)

const indexTemplateName = "index"

var indexTemplate = template.Must(template.New(indexTemplateName).Parse(`<!doctype html>
<head></head>
<body>
    <p>{{.Message}}</p>
    <form action="/login" method="post">
      Login:
      <input type="text" name="login">
      Password:
      <input type="password" name="password">
      <input type="submit" value="Login">
    </form>
    <a href="/logout">Logout</a>
</body>
`))

// 権限ラベル
const (
	PermissionPublic    = "public"
	PermissionProtected = "protected"
)

// WebOptions は Web の任意設定です。
type WebOptions struct {
	Verify  CredentialVerifier // 未指定なら users.CheckCredentials
	Limiter *LoginLimiter      // nil ならログイン試行を制限しない
	Auditor audit.Recorder     // nil なら記録しない
}

// Web はトップページ、ログイン、ログアウト、権限付きページのハンドラーをまとめます。
type Web struct {
	identity IdentityProvider
	sessions SessionWriter
	guard    PermissionChecker
	verify   CredentialVerifier
	limiter  *LoginLimiter
	auditor  audit.Recorder
}

// NewWeb は Web を作成します。
func NewWeb(identity IdentityProvider, sessions SessionWriter, guard PermissionChecker, opts WebOptions) (*Web, error) {
	if identity == nil || sessions == nil || guard == nil {
		return nil, errors.New("identity provider, session writer and permission checker are required")
	}
	w := &Web{
		identity: identity,
		sessions: sessions,
		guard:    guard,
		verify:   opts.Verify,
		limiter:  opts.Limiter,
		auditor:  opts.Auditor,
	}
	if w.verify == nil {
		w.verify = users.CheckCredentials
	}
	if w.auditor == nil {
		w.auditor = audit.Nop{}
	}
	return w, nil
}

// Configure はルーティングとテンプレートを登録します。
func (w *Web) Configure(router *gin.Engine) {
	router.SetHTMLTemplate(indexTemplate)

	router.GET("/", w.Index)
	router.POST("/login", w.Login)
	router.GET("/logout", w.Logout)
	router.GET("/public", w.PublicPage)
	router.GET("/protected", w.ProtectedPage)
}

// Index は GET / のハンドラーです。
func (w *Web) Index(c *gin.Context) {
	username, err := w.identity.AuthorizedUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	message := "You need to login"
	if username != "" {
		message = "Hello, " + username + "!"
	}
	c.HTML(http.StatusOK, indexTemplateName, gin.H{"Message": message})
}

// Login は POST /login のハンドラーです。
func (w *Web) Login(c *gin.Context) {
	result, err := w.authenticate(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	switch r := result.(type) {
	case Redirect:
		if err := w.sessions.Remember(c, r.Identity); err != nil {
			respondWithError(c, err)
			return
		}
		w.record(c, audit.KindLoginSucceeded, r.Identity)
		c.Redirect(http.StatusFound, r.Location)
	case Rejected:
		if r.Reason == RejectLocked {
			w.record(c, audit.KindLoginLocked, r.Login)
			c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(r.RetryAfter.Seconds())), 10))
			c.String(http.StatusTooManyRequests, "429: Too Many Requests")
			return
		}
		w.record(c, audit.KindLoginFailed, r.Login)
		respondWithError(c, ErrInvalidCredentials)
	}
}

// Logout は GET /logout のハンドラーです。
func (w *Web) Logout(c *gin.Context) {
	userID, err := w.guard.CheckAuthorized(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := w.sessions.Forget(c); err != nil {
		respondWithError(c, err)
		return
	}
	w.record(c, audit.KindLogout, userID)
	c.String(http.StatusOK, "You have been logged out")
}

// PublicPage は GET /public のハンドラーです。
func (w *Web) PublicPage(c *gin.Context) {
	if err := w.guard.CheckPermission(c, PermissionPublic); err != nil {
		respondWithError(c, err)
		return
	}
	c.String(http.StatusOK, "This page is visible for all registered users")
}

// ProtectedPage は GET /protected のハンドラーです。
func (w *Web) ProtectedPage(c *gin.Context) {
	if err := w.guard.CheckPermission(c, PermissionProtected); err != nil {
		respondWithError(c, err)
		return
	}
	c.String(http.StatusOK, "You are on protected page")
}

func (w *Web) record(c *gin.Context, kind audit.Kind, login string) {
	w.auditor.Record(c.Request.Context(), audit.Event{
		Kind:      kind,
		Login:     login,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
}
