// Package authn owns account authentication: password hashing and the
// signup/login/refresh flows, HS256 token issuance and verification,
// and captcha validation (fake backend only; the real captcha backend
// is an external service).
package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shopmindai/chatcore/internal/model"
)

// TokenVerifier validates a bearer token and resolves it to a user id.
type TokenVerifier interface {
	Verify(ctx context.Context, bearer string) (model.UserID, error)
}

// CaptchaVerifier validates a captcha response token.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// Captcha is one issued challenge: an id the client echoes back and an
// image it renders for the user to answer.
type Captcha struct {
	ID          string
	ImageBase64 string
	ExpiresAt   time.Time
}

// CaptchaProvider issues challenges and validates their answers.
type CaptchaProvider interface {
	Generate(ctx context.Context) (Captcha, error)
	Verify(ctx context.Context, token string) (bool, error)
}

var (
	ErrMissingBearer = errors.New("authn: missing bearer token")
	ErrInvalidToken  = errors.New("authn: invalid or expired token")
)

// JWTVerifier validates an HS256-signed access token and resolves its
// subject claim to a user id.
type JWTVerifier struct {
	signingKey []byte
}

func NewJWTVerifier(signingKey string) *JWTVerifier {
	return &JWTVerifier{signingKey: []byte(signingKey)}
}

type claims struct {
	jwt.RegisteredClaims
}

// Verify parses "Bearer <token>" (or a bare token) and returns the
// subject claim as a UserID.
func (v *JWTVerifier) Verify(ctx context.Context, bearer string) (model.UserID, error) {
	raw := strings.TrimPrefix(bearer, "Bearer ")
	if raw == "" {
		return model.UserID{}, ErrMissingBearer
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authn: unexpected signing method %v", t.Method.Alg())
		}
		return v.signingKey, nil
	})
	if err != nil {
		return model.UserID{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return model.UserID{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return userID, nil
}

// fakeCaptchaImage is a tiny placeholder PNG (1x1, transparent); the
// fake backend does not render a real challenge.
const fakeCaptchaImage = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// FakeCaptchaVerifier always succeeds; it backs captcha.backend=fake,
// the default, for local development and tests. captcha.backend=real
// is the external collaborator and has no implementation here.
type FakeCaptchaVerifier struct{}

func (FakeCaptchaVerifier) Generate(ctx context.Context) (Captcha, error) {
	return Captcha{
		ID:          uuid.Nil.String(),
		ImageBase64: fakeCaptchaImage,
		ExpiresAt:   time.Now().UTC().Add(5 * time.Minute),
	}, nil
}

func (FakeCaptchaVerifier) Verify(ctx context.Context, token string) (bool, error) {
	return true, nil
}
