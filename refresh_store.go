package auth

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// RefreshTokenStore keeps a salted fingerprint of the one valid refresh
// token per account. Persisting overwrites, there is no token history.
type RefreshTokenStore struct {
	repo   RefreshTokenRepository
	hasher *PasswordHasher
}

// NewRefreshTokenStore creates a store over repo. A nil hasher uses
// TokenFingerprintCost.
func NewRefreshTokenStore(repo RefreshTokenRepository, hasher *PasswordHasher) *RefreshTokenStore {
	if hasher == nil {
		hasher = NewPasswordHasher(TokenFingerprintCost)
	}
	return &RefreshTokenStore{
		repo:   repo,
		hasher: hasher,
	}
}

// Fingerprint hashes token without persisting it
func (s *RefreshTokenStore) Fingerprint(token string) (string, error) {
	return s.hasher.HashToken(token)
}

// Persist replaces the stored fingerprint of the account
func (s *RefreshTokenStore) Persist(ctx context.Context, accountID uuid.UUID, token string) error {
	hash, err := s.Fingerprint(token)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to fingerprint refresh token")
	}
	return s.repo.SetRefreshTokenHash(ctx, accountID, &hash)
}

// Rotate replaces the fingerprint current, as loaded by the caller, with the
// fingerprint of next. It fails with ErrAccessDenied when current is no
// longer stored, which makes a presented refresh token usable once.
func (s *RefreshTokenStore) Rotate(ctx context.Context, accountID uuid.UUID, current *string, next string) error {
	if current == nil || *current == "" {
		return ErrAccessDenied
	}

	hash, err := s.Fingerprint(next)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to fingerprint refresh token")
	}

	swapped, err := s.repo.RotateRefreshTokenHash(ctx, accountID, *current, hash)
	if err != nil {
		return err
	}
	if !swapped {
		return ErrAccessDenied
	}
	return nil
}

// Verify reports whether token matches the stored fingerprint. Unknown
// accounts and accounts without a fingerprint never match.
func (s *RefreshTokenStore) Verify(ctx context.Context, accountID uuid.UUID, token string) (bool, error) {
	hash, err := s.repo.GetRefreshTokenHash(ctx, accountID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return s.Matches(hash, token), nil
}

// Matches compares token against an already loaded fingerprint
func (s *RefreshTokenStore) Matches(hash *string, token string) bool {
	if hash == nil || *hash == "" {
		return false
	}
	return s.hasher.VerifyToken(token, *hash)
}

// Revoke clears the stored fingerprint
func (s *RefreshTokenStore) Revoke(ctx context.Context, accountID uuid.UUID) error {
	return s.repo.SetRefreshTokenHash(ctx, accountID, nil)
}
