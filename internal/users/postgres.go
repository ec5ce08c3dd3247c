package users

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DatabaseIface は pgxpool.Pool とテスト用モックの共通インターフェースです。
type DatabaseIface interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           BIGSERIAL PRIMARY KEY,
	login        TEXT NOT NULL UNIQUE,
	passwd       TEXT NOT NULL,
	is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
	disabled     BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS permissions (
	id        BIGSERIAL PRIMARY KEY,
	user_id   BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	perm_name TEXT NOT NULL,
	UNIQUE (user_id, perm_name)
);`

// PostgresStore は users / permissions テーブルを参照する Store 実装です。
type PostgresStore struct {
	db     DatabaseIface
	logger *log.Logger
}

// NewPostgresStore は PostgresStore を作成します。
func NewPostgresStore(db DatabaseIface, logger *log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Migrate はテーブルが存在しない場合に作成します。
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// FindActiveUser は無効化されていないユーザーを取得します。見つからない場合は nil を返します。
func (s *PostgresStore) FindActiveUser(ctx context.Context, login string) (*User, error) {
	query := `SELECT id, login, passwd, is_superuser FROM users WHERE login = $1 AND NOT disabled`

	user := &User{}
	err := s.db.QueryRow(ctx, query, login).Scan(&user.ID, &user.Login, &user.PasswdHash, &user.IsSuperuser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Permissions はユーザーに付与された権限名を返します。
func (s *PostgresStore) Permissions(ctx context.Context, userID int64) ([]string, error) {
	query := `SELECT perm_name FROM permissions WHERE user_id = $1 ORDER BY perm_name`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read permissions: %w", err)
	}
	return perms, nil
}

// CreateUser はユーザーを登録し、採番された ID を返します。
func (s *PostgresStore) CreateUser(ctx context.Context, login, passwdHash string, superuser bool) (int64, error) {
	query := `INSERT INTO users (login, passwd, is_superuser) VALUES ($1, $2, $3) RETURNING id`

	var id int64
	if err := s.db.QueryRow(ctx, query, login, passwdHash, superuser).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create user %q: %w", login, err)
	}
	s.logger.Printf("user created login=%s id=%d superuser=%t", login, id, superuser)
	return id, nil
}

// GrantPermission はユーザーに権限を付与します。付与済みの場合は何もしません。
func (s *PostgresStore) GrantPermission(ctx context.Context, userID int64, permission string) error {
	query := `INSERT INTO permissions (user_id, perm_name) VALUES ($1, $2) ON CONFLICT (user_id, perm_name) DO NOTHING`

	if _, err := s.db.Exec(ctx, query, userID, permission); err != nil {
		return fmt.Errorf("failed to grant %q to user %d: %w", permission, userID, err)
	}
	return nil
}

// SetDisabled はユーザーの有効/無効を切り替えます。
func (s *PostgresStore) SetDisabled(ctx context.Context, login string, disabled bool) error {
	query := `UPDATE users SET disabled = $2 WHERE login = $1`

	tag, err := s.db.Exec(ctx, query, login, disabled)
	if err != nil {
		return fmt.Errorf("failed to update user %q: %w", login, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", login)
	}
	return nil
}

// Close はコネクションを閉じます。
func (s *PostgresStore) Close() {
	s.db.Close()
}
