package auth

import (
	"sync"
	"time"
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// LoginLimiter はクライアントIPごとのログイン失敗回数を数え、上限に達したIPを一定時間ロックします。
// nil の LoginLimiter は何も制限しません。
type LoginLimiter struct {
	maxAttempts  int
	window       time.Duration
	lockDuration time.Duration
	now          func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewLoginLimiter は LoginLimiter を作成します。maxAttempts が0以下なら nil を返します。
func NewLoginLimiter(maxAttempts int, window, lockDuration time.Duration) *LoginLimiter {
	if maxAttempts <= 0 {
		return nil
	}
	return &LoginLimiter{
		maxAttempts:  maxAttempts,
		window:       window,
		lockDuration: lockDuration,
		now:          time.Now,
		attempts:     make(map[string]*attemptState),
	}
}

// Check はロック中であれば残り時間を返します。
func (l *LoginLimiter) Check(ip string) time.Duration {
	if l == nil {
		return 0
	}
	l.lock.Lock()
	defer l.lock.Unlock()

	state, ok := l.attempts[ip]
	if !ok {
		return 0
	}
	now := l.now()
	if !now.Before(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
func (l *LoginLimiter) RecordFailure(ip string) int {
	if l == nil {
		return 0
	}
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	state, ok := l.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > l.window || lockExpired(state, now) {
		state = &attemptState{firstAttempt: now}
		l.attempts[ip] = state
	}

	state.count++
	if state.count >= l.maxAttempts {
		state.lockedUntil = now.Add(l.lockDuration)
		state.count = l.maxAttempts
	}

	remaining := l.maxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func lockExpired(state *attemptState, now time.Time) bool {
	return !state.lockedUntil.IsZero() && !now.Before(state.lockedUntil)
}

// Reset は失敗回数を消去します。
func (l *LoginLimiter) Reset(ip string) {
	if l == nil {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, ip)
}
