package store

import (
	"context"
	"time"
)

type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

func (tx *Tx) CreateAdminUser(ctx context.Context, username, passwordHash string) error {
	_, err := tx.exec(ctx, `INSERT INTO admin_users (username, password_hash) VALUES (?, ?)`, username, passwordHash)
	return classify("create admin user", err)
}

func (tx *Tx) GetAdminUser(ctx context.Context, username string) (*AdminUser, error) {
	var u AdminUser
	var createdAt any
	err := tx.queryRow(ctx, `SELECT id, username, password_hash, created_at FROM admin_users WHERE username=?`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if err != nil {
		return nil, classify("get admin user", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (tx *Tx) AdminUserExists(ctx context.Context) (bool, error) {
	var count int
	err := tx.queryRow(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&count)
	return count > 0, classify("count admin users", err)
}
