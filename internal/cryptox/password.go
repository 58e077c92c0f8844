// Package cryptox holds the one-way password hashing used by the credential
// store. Hashes are salted bcrypt digests with a configurable work factor.
package cryptox

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost matches the work factor the service has always used.
const DefaultCost = 10

// ErrInvalidCost is returned by NewBcryptHasher for out-of-range work factors.
var ErrInvalidCost = errors.New("invalid bcrypt cost")

// BcryptHasher hashes and verifies passwords. It is safe for concurrent use.
type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return &BcryptHasher{cost: cost}, nil
}

func (h *BcryptHasher) Cost() int { return h.cost }

// Hash returns the bcrypt digest of plaintext. Inputs longer than 72 bytes
// are rejected by bcrypt and surface as an error.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A mismatch, an empty
// digest and a malformed digest all yield false.
func (h *BcryptHasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
