package auth

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/dbauth-demo/internal/users"
)

// IdentityProvider は現在のリクエストのログイン中ユーザーを返します。未ログインなら空文字です。
type IdentityProvider interface {
	AuthorizedUserID(c *gin.Context) (string, error)
}

// SessionWriter はレスポンスにログイン状態を付与/削除します。
type SessionWriter interface {
	Remember(c *gin.Context, identity string) error
	Forget(c *gin.Context) error
}

// PermissionChecker はログイン状態と権限を検証します。
// 失敗時は ErrUnauthenticated か ErrForbidden を返します。
type PermissionChecker interface {
	CheckAuthorized(c *gin.Context) (string, error)
	CheckPermission(c *gin.Context, permission string) error
}

// CredentialVerifier はストアに対して login/password を照合します。
type CredentialVerifier func(ctx context.Context, store users.Store, login, password string) (bool, error)

// IdentityPolicy はトランスポート上のセッションとユーザー名の対応を扱います。
type IdentityPolicy interface {
	Identify(c *gin.Context) (string, error)
	Remember(c *gin.Context, identity string) error
	Forget(c *gin.Context) error
}

// AuthorizationPolicy はユーザー名の有効性と権限を判定します。
type AuthorizationPolicy interface {
	AuthorizedUserID(ctx context.Context, identity string) (string, error)
	Permits(ctx context.Context, identity, permission string) (bool, error)
}

// Security は IdentityPolicy と AuthorizationPolicy を組み合わせ、
// IdentityProvider / SessionWriter / PermissionChecker を提供します。
type Security struct {
	identity IdentityPolicy
	authz    AuthorizationPolicy
}

// NewSecurity は Security を作成します。
func NewSecurity(identity IdentityPolicy, authz AuthorizationPolicy) (*Security, error) {
	if identity == nil {
		return nil, errors.New("identity policy is nil")
	}
	if authz == nil {
		return nil, errors.New("authorization policy is nil")
	}
	return &Security{identity: identity, authz: authz}, nil
}

// AuthorizedUserID はセッション上のユーザー名が有効なアカウントであれば返します。
func (s *Security) AuthorizedUserID(c *gin.Context) (string, error) {
	identity, err := s.identity.Identify(c)
	if err != nil || identity == "" {
		return "", err
	}
	return s.authz.AuthorizedUserID(c.Request.Context(), identity)
}

// CheckAuthorized はログイン済みであることを確認します。
func (s *Security) CheckAuthorized(c *gin.Context) (string, error) {
	userID, err := s.AuthorizedUserID(c)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// CheckPermission はログイン済みかつ permission を持つことを確認します。
func (s *Security) CheckPermission(c *gin.Context, permission string) error {
	userID, err := s.CheckAuthorized(c)
	if err != nil {
		return err
	}
	allowed, err := s.authz.Permits(c.Request.Context(), userID, permission)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

// Remember はログイン状態をレスポンスに付与します。
func (s *Security) Remember(c *gin.Context, identity string) error {
	return s.identity.Remember(c, identity)
}

// Forget はログイン状態をレスポンスから削除します。
func (s *Security) Forget(c *gin.Context) error {
	return s.identity.Forget(c)
}
