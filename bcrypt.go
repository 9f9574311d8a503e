package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// TokenFingerprintCost is the bcrypt cost used for refresh token fingerprints
const TokenFingerprintCost = 10

// PasswordHasher produces and checks salted bcrypt digests
type PasswordHasher struct {
	cost int
}

var _ PasswordAuthenticator = (*PasswordHasher)(nil)

// NewPasswordHasher returns a hasher using cost. Zero selects the default
// cost, values outside bcrypt bounds are clamped.
func NewPasswordHasher(cost int) *PasswordHasher {
	switch {
	case cost == 0:
		cost = passwordHashCost()
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Cost returns the configured work factor
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// HashPassword will generate a password hash, with a fresh salt per call
func (h *PasswordHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	return string(b), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func (h *PasswordHasher) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

// Verify reports whether password matches hash. Malformed digests never match.
func (h *PasswordHasher) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return h.ComparePasswordAndHash(password, hash) == nil
}

// HashToken fingerprints a bearer token. bcrypt only reads the first 72
// bytes and JWTs share their header prefix, so the token is digested first.
func (h *PasswordHasher) HashToken(token string) (string, error) {
	return h.HashPassword(tokenDigest(token))
}

// VerifyToken checks a bearer token against a fingerprint made by HashToken
func (h *PasswordHasher) VerifyToken(token, hash string) bool {
	if token == "" {
		return false
	}
	return h.Verify(tokenDigest(token), hash)
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var defaultHasher = NewPasswordHasher(0)

// HashPassword will generate a password hash using the default cost
func HashPassword(password string) (string, error) {
	return defaultHasher.HashPassword(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	return defaultHasher.ComparePasswordAndHash(password, hash)
}
