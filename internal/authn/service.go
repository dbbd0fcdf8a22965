package authn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/sessionstore"
	"github.com/shopmindai/chatcore/internal/storage"
)

var (
	ErrUsernameTooShort   = errors.New("authn: username must be at least 3 characters")
	ErrUsernameTaken      = errors.New("authn: username is already taken")
	ErrInvalidCredentials = errors.New("authn: invalid username or password")
	ErrInvalidRefresh     = errors.New("authn: refresh token invalid or already used")
)

// RefreshStore is the session-store surface the auth service needs:
// mint a single-use token id bound to a user, and redeem it exactly
// once. Satisfied by *sessionstore.RefreshTokenStore.
type RefreshStore interface {
	Issue(ctx context.Context, userID string, ttl time.Duration) (string, error)
	CheckAndConsume(ctx context.Context, tokenID string) (string, error)
}

// Tokens is what a successful login or refresh hands back to the
// client: a short-lived bearer JWT plus a single-use refresh token.
type Tokens struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// Service implements signup, login, and refresh-token rotation over
// the user/credential tables and the session store.
type Service struct {
	db         *sql.DB
	users      *storage.UserRepo
	hasher     *PasswordHasher
	issuer     *TokenIssuer
	refresh    RefreshStore
	refreshTTL time.Duration
}

func NewService(db *sql.DB, issuer *TokenIssuer, refresh RefreshStore, refreshTTL time.Duration) *Service {
	return &Service{
		db:         db,
		users:      storage.NewUserRepo(),
		hasher:     NewPasswordHasher(),
		issuer:     issuer,
		refresh:    refresh,
		refreshTTL: refreshTTL,
	}
}

// Signup creates the user and its credential record together; both
// become visible atomically or not at all.
func (s *Service) Signup(ctx context.Context, username, password string) (model.UserID, error) {
	if len(username) < 3 {
		return model.UserID{}, ErrUsernameTooShort
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.UserID{}, err
	}

	userID := model.NewID()
	err = storage.WithTx(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		return s.users.CreateWithCredentials(ctx, tx, userID, username, hash)
	})
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return model.UserID{}, ErrUsernameTaken
		}
		return model.UserID{}, err
	}
	return userID, nil
}

// Login verifies the password and issues a fresh token pair. Unknown
// username, wrong password, and a deactivated account are all reported
// as the same ErrInvalidCredentials so a caller cannot probe which
// usernames exist.
func (s *Service) Login(ctx context.Context, username, password string) (model.UserID, Tokens, error) {
	cred, err := s.users.GetCredentialByUsername(ctx, s.db, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.UserID{}, Tokens{}, ErrInvalidCredentials
		}
		return model.UserID{}, Tokens{}, err
	}
	if !cred.IsActive {
		return model.UserID{}, Tokens{}, ErrInvalidCredentials
	}

	if err := s.hasher.Verify(password, cred.PasswordHash); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return model.UserID{}, Tokens{}, ErrInvalidCredentials
		}
		return model.UserID{}, Tokens{}, err
	}

	tokens, err := s.issueTokens(ctx, cred.UserID)
	if err != nil {
		return model.UserID{}, Tokens{}, err
	}
	return cred.UserID, tokens, nil
}

// Refresh redeems a refresh token exactly once and rotates the pair.
// A token that was already consumed (or never existed) fails with
// ErrInvalidRefresh; the concurrent-redeem race is settled by the
// store's atomic check-and-consume.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (model.UserID, Tokens, error) {
	userIDStr, err := s.refresh.CheckAndConsume(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sessionstore.ErrTokenNotFound) {
			return model.UserID{}, Tokens{}, ErrInvalidRefresh
		}
		return model.UserID{}, Tokens{}, err
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return model.UserID{}, Tokens{}, fmt.Errorf("%w: stored subject is not a user id", ErrInvalidRefresh)
	}

	tokens, err := s.issueTokens(ctx, userID)
	if err != nil {
		return model.UserID{}, Tokens{}, err
	}
	return userID, tokens, nil
}

func (s *Service) issueTokens(ctx context.Context, userID model.UserID) (Tokens, error) {
	access, exp, err := s.issuer.IssueAccess(userID)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.refresh.Issue(ctx, userID.String(), s.refreshTTL)
	if err != nil {
		return Tokens{}, fmt.Errorf("authn: issue refresh token: %w", err)
	}
	return Tokens{AccessToken: access, AccessExpiresAt: exp, RefreshToken: refresh}, nil
}
