package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists users, sessions, and provider accounts in PostgreSQL.
// Schema lives in migrations/ and is applied via cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, email_verified, role, favorite_number, banned, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, u.Name, u.Email, u.EmailVerified, u.Role, u.FavoriteNumber, u.Banned, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (p *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, name, email, email_verified, role, favorite_number, banned, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, name, email, email_verified, role, favorite_number, banned, password_hash, created_at, updated_at
		FROM users WHERE lower(email) = lower($1)
	`, email))
}

func (p *PostgresStore) UpdateUser(ctx context.Context, u *User) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, email = $3, email_verified = $4, role = $5,
		    favorite_number = $6, banned = $7, password_hash = $8, updated_at = $9
		WHERE id = $1
	`, u.ID, u.Name, u.Email, u.EmailVerified, u.Role, u.FavoriteNumber, u.Banned, u.PasswordHash, u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) ListUsers(ctx context.Context, after time.Time, afterID string, limit int) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, email_verified, role, favorite_number, banned, password_hash, created_at, updated_at
		FROM users
		WHERE ($1::timestamptz IS NULL OR (created_at, id) > ($1, $2))
		ORDER BY created_at, id
		LIMIT $3
	`, nullTime(after), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.EmailVerified, &u.Role,
			&u.FavoriteNumber, &u.Banned, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token_hash, user_id, ip, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.TokenHash, s.UserID, s.IP, s.UserAgent, s.CreatedAt, s.ExpiresAt)
	return err
}

func (p *PostgresStore) GetSessionByTokenHash(ctx context.Context, hash string) (*Session, error) {
	s := &Session{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, token_hash, user_id, ip, user_agent, created_at, expires_at
		FROM sessions WHERE token_hash = $1
	`, hash).Scan(&s.ID, &s.TokenHash, &s.UserID, &s.IP, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) DeleteSessionByTokenHash(ctx context.Context, hash string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, hash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

func (p *PostgresStore) CountActiveSessions(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE expires_at > NOW()`).Scan(&n)
	return n, err
}

func (p *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, provider, provider_account_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_account_id) DO NOTHING
	`, a.ID, a.UserID, a.Provider, a.ProviderAccountID, a.CreatedAt)
	return err
}

func (p *PostgresStore) GetAccount(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	a := &Account{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, provider_account_id, created_at
		FROM accounts WHERE provider = $1 AND provider_account_id = $2
	`, provider, providerAccountID).Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PostgresStore) GetAccountsByUser(ctx context.Context, userID string) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, provider, provider_account_id, created_at
		FROM accounts WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (p *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.EmailVerified, &u.Role,
		&u.FavoriteNumber, &u.Banned, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// isUniqueViolation checks for Postgres error code 23505.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
