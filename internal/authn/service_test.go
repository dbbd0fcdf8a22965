package authn_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/authn"
	"github.com/shopmindai/chatcore/internal/sessionstore"
	"github.com/shopmindai/chatcore/internal/testutil"
)

// memRefreshStore is an in-memory stand-in for the redis-backed store:
// the auth service only needs issue-once/consume-once semantics, which
// a mutex-guarded map provides without a container.
type memRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{tokens: make(map[string]string)}
}

func (s *memRefreshStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokenID := uuid.NewString()
	s.tokens[tokenID] = userID
	return tokenID, nil
}

func (s *memRefreshStore) CheckAndConsume(ctx context.Context, tokenID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.tokens[tokenID]
	if !ok {
		return "", sessionstore.ErrTokenNotFound
	}
	delete(s.tokens, tokenID)
	return userID, nil
}

func newTestService(t *testing.T) *authn.Service {
	t.Helper()
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	issuer := authn.NewTokenIssuer("service-test-key", 15*time.Minute)
	return authn.NewService(fixture.DB, issuer, newMemRefreshStore(), 24*time.Hour)
}

func TestSignupThenLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	userID, err := svc.Signup(ctx, "alice", "pw-123456")
	require.NoError(t, err)

	gotID, tokens, err := svc.Login(ctx, "alice", "pw-123456")
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	verifier := authn.NewJWTVerifier("service-test-key")
	subject, err := verifier.Verify(ctx, "Bearer "+tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, subject)
}

func TestSignup_DuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "pw-123456")
	require.NoError(t, err)

	_, err = svc.Signup(ctx, "alice", "pw-654321")
	assert.ErrorIs(t, err, authn.ErrUsernameTaken)
}

func TestSignup_ValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "al", "pw-123456")
	assert.ErrorIs(t, err, authn.ErrUsernameTooShort)

	_, err = svc.Signup(ctx, "alice", "short")
	assert.ErrorIs(t, err, authn.ErrPasswordTooShort)
}

func TestLogin_WrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "pw-123456")
	require.NoError(t, err)

	_, _, errWrong := svc.Login(ctx, "alice", "pw-654321")
	_, _, errUnknown := svc.Login(ctx, "nobody", "pw-123456")
	assert.ErrorIs(t, errWrong, authn.ErrInvalidCredentials)
	assert.ErrorIs(t, errUnknown, authn.ErrInvalidCredentials)
}

func TestRefresh_RotatesAndConsumesExactlyOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	userID, err := svc.Signup(ctx, "alice", "pw-123456")
	require.NoError(t, err)
	_, tokens, err := svc.Login(ctx, "alice", "pw-123456")
	require.NoError(t, err)

	gotID, rotated, err := svc.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// The original token was consumed by the rotation above.
	_, _, err = svc.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, authn.ErrInvalidRefresh)
}
