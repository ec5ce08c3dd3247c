package users

import (
	"context"
	"errors"
)

// Policy はアカウントテーブルに基づく認可ポリシーです。
type Policy struct {
	store Store
}

// NewPolicy は Policy を作成します。
func NewPolicy(store Store) (*Policy, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	return &Policy{store: store}, nil
}

// AuthorizedUserID は identity が有効なアカウントであればそれを返し、そうでなければ空文字を返します。
func (p *Policy) AuthorizedUserID(ctx context.Context, identity string) (string, error) {
	if identity == "" {
		return "", nil
	}
	user, err := p.store.FindActiveUser(ctx, identity)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", nil
	}
	return identity, nil
}

// Permits は identity が permission を持つかを返します。
// スーパーユーザーは全ての権限を持ちます。
func (p *Policy) Permits(ctx context.Context, identity, permission string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	user, err := p.store.FindActiveUser(ctx, identity)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if user.IsSuperuser {
		return true, nil
	}

	perms, err := p.store.Permissions(ctx, user.ID)
	if err != nil {
		return false, err
	}
	for _, perm := range perms {
		if perm == permission {
			return true, nil
		}
	}
	return false, nil
}
