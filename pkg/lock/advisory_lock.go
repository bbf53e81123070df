// Package lock はPostgreSQLのアドバイザリロックを提供します
package lock

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyLocked は同じロックが別セッションに保持されている場合のエラー
var ErrAlreadyLocked = errors.New("advisory lock is held by another session")

// SessionLock はセッションスコープのアドバイザリロックを保持します
// 取り込み実行中、同じ名前空間への並行実行を防ぐために使います
type SessionLock struct {
	conn   *pgxpool.Conn
	lockID int64
}

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}

// AcquireSession はpg_try_advisory_lockでロックの取得を試みます
// 他セッションが保持している場合は ErrAlreadyLocked を返します
// ロックは専用コネクションに紐づくため、Releaseまでコネクションを占有します
func AcquireSession(ctx context.Context, pool *pgxpool.Pool, lockID int64) (*SessionLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for advisory lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, ErrAlreadyLocked
	}

	return &SessionLock{conn: conn, lockID: lockID}, nil
}

// Release はロックを解放し、占有していたコネクションをプールへ返します
func (l *SessionLock) Release(ctx context.Context) error {
	defer l.conn.Release()

	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.lockID); err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	return nil
}
