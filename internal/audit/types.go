// Package audit はログイン/ログアウトの監査イベントを非同期に記録します。
package audit

import (
	"context"
	"time"
)

// Kind は監査イベントの種別を表します。
type Kind string

const (
	KindLoginSucceeded Kind = "login_succeeded"
	KindLoginFailed    Kind = "login_failed"
	KindLoginLocked    Kind = "login_locked"
	KindLogout         Kind = "logout"
)

// Event は1件の監査イベントです。
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Login      string    `json:"login"`
	ClientIP   string    `json:"clientIp,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Recorder は監査イベントの受け付け先です。
// 呼び出し元の処理を失敗させないため、エラーは返しません。
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Nop は何も記録しない Recorder です。
type Nop struct{}

// Record は何もしません。
func (Nop) Record(context.Context, Event) {}
