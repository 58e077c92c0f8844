// Package auth mints and verifies the session token pair.
//
// Access tokens carry the full identity and are never stored. Refresh tokens
// carry only the subject id; the caller persists them and compares the stored
// value on every refresh. Each kind is signed (HS256) with its own secret and
// has its own lifetime.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the subset of a user that goes into an access token.
type Identity struct {
	ID       string
	Email    string
	Username string
	FullName string
}

// AccessClaims are the claims of an access token. The subject is the user id.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// RefreshClaims are the claims of a refresh token: the subject id only.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// TokenPair is what a successful login or refresh hands back to the client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenManager issues and verifies both token kinds. It is safe for
// concurrent use.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration

	now func() time.Time
}

func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*TokenManager, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// registered builds the standard claims. The random jti keeps two tokens
// minted within the same second distinct.
func (m *TokenManager) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (m *TokenManager) IssueAccessToken(id Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: m.registered(id.ID, m.accessTTL),
		Email:            id.Email,
		Username:         id.Username,
		FullName:         id.FullName,
	})

	s, err := token.SignedString(m.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return s, nil
}

func (m *TokenManager) IssueRefreshToken(id Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RegisteredClaims: m.registered(id.ID, m.refreshTTL),
	})

	s, err := token.SignedString(m.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return s, nil
}

// IssuePair mints a fresh access and refresh token for id.
func (m *TokenManager) IssuePair(id Identity) (TokenPair, error) {
	access, err := m.IssueAccessToken(id)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.IssueRefreshToken(id)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccessToken checks signature and expiry against the access secret.
// Every failure wraps common.ErrInvalidToken; expiry additionally wraps
// common.ErrTokenExpired.
func (m *TokenManager) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.verify(tokenString, m.accessSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefreshToken is VerifyAccessToken for the refresh secret.
func (m *TokenManager) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.verify(tokenString, m.refreshSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *TokenManager) verify(tokenString string, secret []byte, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %w", common.ErrInvalidToken, common.ErrTokenExpired)
		}
		return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return common.ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}

	return nil
}
