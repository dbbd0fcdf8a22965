package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopmindai/chatcore/internal/model"
)

var ErrNotFound = errors.New("storage: not found")

// UserRepo persists users and their sibling credential record, created
// together in one transaction at signup.
type UserRepo struct{}

func NewUserRepo() *UserRepo { return &UserRepo{} }

type User struct {
	UserID   model.UserID
	Username string
	IsActive bool
}

// CreateWithCredentials inserts the user and credential rows through q.
// The pair is atomic when q is a *sql.Tx, as in authn.Service.Signup;
// against a *sql.DB each insert commits on its own.
func (r *UserRepo) CreateWithCredentials(ctx context.Context, q Querier, userID model.UserID, username, passwordHash string) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO users (user_id, username) VALUES ($1, $2)`,
		userID, username,
	); err != nil {
		return fmt.Errorf("storage: insert user: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO user_credentials (user_id, username, password_hash) VALUES ($1, $2, $3)`,
		userID, username, passwordHash,
	); err != nil {
		return fmt.Errorf("storage: insert credentials: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, q Querier, userID model.UserID) (User, error) {
	var u User
	err := q.QueryRowContext(ctx,
		`SELECT user_id, username, is_active FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.Username, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, q Querier, username string) (User, error) {
	var u User
	err := q.QueryRowContext(ctx,
		`SELECT user_id, username, is_active FROM users WHERE username = $1`,
		username,
	).Scan(&u.UserID, &u.Username, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("storage: get user by username: %w", err)
	}
	return u, nil
}

// CredentialRecord is read back at login to verify a password.
type CredentialRecord struct {
	UserID       model.UserID
	Username     string
	PasswordHash string
	IsActive     bool
}

func (r *UserRepo) GetCredentialByUsername(ctx context.Context, q Querier, username string) (CredentialRecord, error) {
	var c CredentialRecord
	err := q.QueryRowContext(ctx,
		`SELECT user_id, username, password_hash, is_active FROM user_credentials WHERE username = $1`,
		username,
	).Scan(&c.UserID, &c.Username, &c.PasswordHash, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return CredentialRecord{}, ErrNotFound
	}
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("storage: get credentials: %w", err)
	}
	return c, nil
}
