package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/yourusername/dbauth-demo/internal/users"
)

// RejectReason はログインが拒否された理由です。
type RejectReason string

const (
	RejectMalformed RejectReason = "malformed"
	RejectMismatch  RejectReason = "mismatch"
	RejectLocked    RejectReason = "locked"
)

// LoginResult はログイン処理の結果で、Redirect か Rejected のいずれかです。
type LoginResult interface {
	isLoginResult()
}

// Redirect はログイン成功を表します。Identity を記憶してから Location へ遷移します。
type Redirect struct {
	Location string
	Identity string
}

// Rejected はログイン失敗を表します。
type Rejected struct {
	Reason     RejectReason
	Login      string
	RetryAfter time.Duration
}

func (Redirect) isLoginResult() {}
func (Rejected) isLoginResult() {}

type loginForm struct {
	Login    string `form:"login" binding:"required"`
	Password string `form:"password" binding:"required"`
}

var errStoreMissing = errors.New("account store is not configured")

// authenticate はフォームを検証して資格情報を照合します。
// 返す error はストア障害などサーバー側の問題に限られます。
func (w *Web) authenticate(c *gin.Context) (LoginResult, error) {
	ip := c.ClientIP()
	if retryAfter := w.limiter.Check(ip); retryAfter > 0 {
		return Rejected{Reason: RejectLocked, Login: c.PostForm("login"), RetryAfter: retryAfter}, nil
	}

	// login/password はテキストのフォーム値に限る（ファイルパートやJSONは受け付けない）
	var form loginForm
	if err := c.ShouldBindWith(&form, binding.Form); err != nil {
		return Rejected{Reason: RejectMalformed}, nil
	}

	value, _ := c.Get(ContextStoreKey)
	store, ok := value.(users.Store)
	if !ok || store == nil {
		return nil, errStoreMissing
	}

	matched, err := w.verify(c.Request.Context(), store, form.Login, form.Password)
	if err != nil {
		return nil, err
	}
	if !matched {
		w.limiter.RecordFailure(ip)
		return Rejected{Reason: RejectMismatch, Login: form.Login}, nil
	}

	w.limiter.Reset(ip)
	return Redirect{Location: "/", Identity: form.Login}, nil
}
