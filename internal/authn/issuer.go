package authn

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shopmindai/chatcore/internal/model"
)

// TokenIssuer mints the HS256 access tokens JWTVerifier later checks.
// Refresh tokens are not JWTs: they are opaque single-use identifiers
// held by the session store, so revoking one is a key delete rather
// than a blacklist.
type TokenIssuer struct {
	signingKey []byte
	accessTTL  time.Duration
}

func NewTokenIssuer(signingKey string, accessTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{signingKey: []byte(signingKey), accessTTL: accessTTL}
}

// IssueAccess returns a signed access token for userID and its expiry.
func (i *TokenIssuer) IssueAccess(userID model.UserID) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("authn: sign access token: %w", err)
	}
	return token, exp, nil
}
