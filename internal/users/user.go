// Package users はアカウントの保存、パスワード照合、権限判定を提供します。
package users

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// User はログイン可能なアカウントを表します。
type User struct {
	ID          int64
	Login       string
	PasswdHash  string
	IsSuperuser bool
	Disabled    bool
}

// Store はアカウント情報の参照先です。
// 無効化されたアカウントは FindActiveUser から返しません。
type Store interface {
	FindActiveUser(ctx context.Context, login string) (*User, error)
	Permissions(ctx context.Context, userID int64) ([]string, error)
}

// ErrEmptyPassword は空のパスワードをハッシュ化しようとした場合のエラーです。
var ErrEmptyPassword = errors.New("password is empty")

// HashPassword は bcrypt でパスワードをハッシュ化します。
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckCredentials は login/password が有効なアカウントと一致するかを返します。
func CheckCredentials(ctx context.Context, store Store, login, password string) (bool, error) {
	if store == nil {
		return false, errors.New("users: store is nil")
	}
	user, err := store.FindActiveUser(ctx, login)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswdHash), []byte(password)) == nil, nil
}
