package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TokenPair is the access and refresh token handed to a client
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenConfig holds the signing settings of both token kinds
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenService issues and validates token pairs
type TokenService interface {
	IssuePair(ctx context.Context, identity Identity) (*TokenPair, error)
	ValidateAccess(raw string) (*JWTClaims, error)
	ValidateRefresh(raw string) (*JWTClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	cfg    TokenConfig
	logger Logger
	now    func() time.Time
}

var _ TokenService = (*TokenServiceImpl)(nil)

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenConfig, logger Logger) (*TokenServiceImpl, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, ErrMissingSigningKey
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}

	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	if logger == nil {
		logger = defLogger{}
	}

	return &TokenServiceImpl{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source used for iat/exp
func (ts *TokenServiceImpl) WithClock(now func() time.Time) *TokenServiceImpl {
	if now != nil {
		ts.now = now
	}
	return ts
}

// IssuePair signs a fresh access and refresh token for identity.
// Both tokens are signed concurrently.
func (ts *TokenServiceImpl) IssuePair(ctx context.Context, identity Identity) (*TokenPair, error) {
	if identity == nil {
		return nil, errors.New("identity is required", errors.CategoryBadInput)
	}

	now := ts.now()
	pair := &TokenPair{}

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		token, err := ts.sign(ts.newClaims(identity, TokenTypeAccess, now), ts.cfg.AccessSecret)
		if err != nil {
			return err
		}
		pair.AccessToken = token
		return nil
	})

	g.Go(func() error {
		token, err := ts.sign(ts.newClaims(identity, TokenTypeRefresh, now), ts.cfg.RefreshSecret)
		if err != nil {
			return err
		}
		pair.RefreshToken = token
		return nil
	})

	if err := g.Wait(); err != nil {
		ts.logger.Error("TokenService failed to issue token pair", "error", err)
		return nil, err
	}

	return pair, nil
}

// ValidateAccess parses an access token
func (ts *TokenServiceImpl) ValidateAccess(raw string) (*JWTClaims, error) {
	return ts.validate(raw, ts.cfg.AccessSecret, TokenTypeAccess)
}

// ValidateRefresh parses a refresh token
func (ts *TokenServiceImpl) ValidateRefresh(raw string) (*JWTClaims, error) {
	return ts.validate(raw, ts.cfg.RefreshSecret, TokenTypeRefresh)
}

func (ts *TokenServiceImpl) newClaims(identity Identity, kind TokenType, now time.Time) *JWTClaims {
	ttl := ts.cfg.AccessTTL
	if kind == TokenTypeRefresh {
		ttl = ts.cfg.RefreshTTL
	}

	return &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.cfg.Issuer,
			Subject:   identity.ID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:      identity.ID(),
		Mail:     identity.Email(),
		UserRole: identity.Role(),
		Type:     kind,
	}
}

func (ts *TokenServiceImpl) sign(claims *JWTClaims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT").
			WithTextCode(TextCodeTokenSigningFailure)
	}

	return signed, nil
}

func (ts *TokenServiceImpl) validate(raw string, secret []byte, kind TokenType) (*JWTClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.cfg.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithCode(ErrTokenMalformed.Code).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	if claims.Type != kind {
		return nil, ErrTokenTypeMismatch
	}

	return claims, nil
}
