package jwtware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-shelf-auth/middleware/jwtware"
)

type testClaims struct {
	sub  string
	role string
}

func (c testClaims) Subject() string { return c.sub }
func (c testClaims) UserID() string { return c.sub }
func (c testClaims) Role() string { return c.role }
func (c testClaims) HasRole(role string) bool { return c.role == role }
func (c testClaims) IsAtLeast(minRole string) bool {
	levels := map[string]int{"USER": 1, "ADMIN": 2}
	return levels[c.role] >= levels[minRole]
}

var errInvalidToken = errors.New("invalid token")

// staticValidator accepts only the "good" and "admin" tokens
func staticValidator() jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		switch raw {
		case "good":
			return testClaims{sub: "user-1", role: "USER"}, nil
		case "admin":
			return testClaims{sub: "admin-1", role: "ADMIN"}, nil
		default:
			return nil, errInvalidToken
		}
	})
}

func passthroughErrors(_ router.Context, err error) error {
	return err
}

func next(ctx router.Context) error {
	return ctx.Next()
}

func TestJWTWare_HeaderExtraction(t *testing.T) {
	mw := jwtware.New(jwtware.Config{
		TokenValidator: staticValidator(),
		ErrorHandler:   passthroughErrors,
	})

	t.Run("valid token", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer good"
		ctx.On("Locals", "user", mock.Anything).Return(nil)

		err := mw(next)(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)

		claims, ok := ctx.LocalsMock["user"].(jwtware.AuthClaims)
		require.True(t, ok)
		assert.Equal(t, "user-1", claims.UserID())
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "bearer good"
		ctx.On("Locals", "user", mock.Anything).Return(nil)

		require.NoError(t, mw(next)(ctx))
		assert.True(t, ctx.NextCalled)
	})

	t.Run("missing token", func(t *testing.T) {
		ctx := router.NewMockContext()

		err := mw(next)(ctx)
		assert.ErrorIs(t, err, jwtware.ErrJWTMissingOrMalformed)
		assert.False(t, ctx.NextCalled)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Basic good"

		err := mw(next)(ctx)
		assert.ErrorIs(t, err, jwtware.ErrJWTMissingOrMalformed)
	})

	t.Run("rejected token", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer forged"

		err := mw(next)(ctx)
		assert.ErrorIs(t, err, errInvalidToken)
		assert.False(t, ctx.NextCalled)
	})
}

func TestJWTWare_TokenLookupSources(t *testing.T) {
	mw := jwtware.New(jwtware.Config{
		TokenValidator: staticValidator(),
		TokenLookup:    "header:Authorization,query:token,cookie:jwt,param:tok",
		ErrorHandler:   passthroughErrors,
	})

	tests := []struct {
		name  string
		setup func(*router.MockContext)
	}{
		{name: "query", setup: func(c *router.MockContext) { c.QueriesM["token"] = "good" }},
		{name: "cookie", setup: func(c *router.MockContext) { c.CookiesM["jwt"] = "good" }},
		{name: "param", setup: func(c *router.MockContext) { c.ParamsM["tok"] = "good" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := router.NewMockContext()
			tt.setup(ctx)
			ctx.On("Locals", "user", mock.Anything).Return(nil)

			require.NoError(t, mw(next)(ctx))
			assert.True(t, ctx.NextCalled)
		})
	}
}

func TestJWTWare_DefaultErrorHandler(t *testing.T) {
	mw := jwtware.New(jwtware.Config{TokenValidator: staticValidator()})

	t.Run("missing token is a bad request", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.On("Status", router.StatusBadRequest).Return(ctx)
		ctx.On("SendString", jwtware.ErrJWTMissingOrMalformed.Error()).Return(nil)

		require.NoError(t, mw(next)(ctx))
		assert.Equal(t, router.StatusBadRequest, ctx.StatusCodeM)
	})

	t.Run("invalid token is unauthorized", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer forged"
		ctx.On("Status", router.StatusUnauthorized).Return(ctx)
		ctx.On("SendString", "Invalid or expired token").Return(nil)

		require.NoError(t, mw(next)(ctx))
		assert.Equal(t, router.StatusUnauthorized, ctx.StatusCodeM)
	})
}

func TestJWTWare_RoleChecks(t *testing.T) {
	tests := []struct {
		name    string
		cfg     jwtware.Config
		token   string
		wantErr bool
	}{
		{name: "required role present", cfg: jwtware.Config{RequiredRole: "ADMIN"}, token: "admin"},
		{name: "required role missing", cfg: jwtware.Config{RequiredRole: "ADMIN"}, token: "good", wantErr: true},
		{name: "minimum role met", cfg: jwtware.Config{MinimumRole: "USER"}, token: "admin"},
		{name: "minimum role not met", cfg: jwtware.Config{MinimumRole: "ADMIN"}, token: "good", wantErr: true},
		{
			name: "custom checker rejects",
			cfg: jwtware.Config{
				MinimumRole: "USER",
				RoleChecker: func(jwtware.AuthClaims, string) bool { return false },
			},
			token:   "admin",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.TokenValidator = staticValidator()
			cfg.ErrorHandler = passthroughErrors
			mw := jwtware.New(cfg)

			ctx := router.NewMockContext()
			ctx.HeadersM["Authorization"] = "Bearer " + tt.token
			ctx.On("Locals", "user", mock.Anything).Return(nil)

			err := mw(next)(ctx)
			if tt.wantErr {
				assert.ErrorIs(t, err, jwtware.ErrInsufficientRole)
				assert.False(t, ctx.NextCalled)
				return
			}
			assert.NoError(t, err)
			assert.True(t, ctx.NextCalled)
		})
	}
}

func TestJWTWare_ValidationListenersAndEnricher(t *testing.T) {
	type ctxKey struct{}
	var seen []string
	blocked := errors.New("account disabled")

	cfg := jwtware.Config{
		TokenValidator: staticValidator(),
		ErrorHandler:   passthroughErrors,
		ContextKey:     "claims",
		ValidationListeners: []jwtware.ValidationListener{
			nil,
			func(_ router.Context, claims jwtware.AuthClaims) error {
				seen = append(seen, claims.UserID())
				if claims.Role() == "ADMIN" {
					return blocked
				}
				return nil
			},
		},
		ContextEnricher: func(c context.Context, claims jwtware.AuthClaims) context.Context {
			return context.WithValue(c, ctxKey{}, claims.UserID())
		},
	}
	mw := jwtware.New(cfg)

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer good"
	ctx.On("Locals", "claims", mock.Anything).Return(nil)
	ctx.On("Context").Return(nil)
	ctx.On("SetContext", mock.MatchedBy(func(c context.Context) bool {
		return c.Value(ctxKey{}) == "user-1"
	})).Return()

	require.NoError(t, mw(next)(ctx))
	assert.True(t, ctx.NextCalled)
	ctx.AssertExpectations(t)

	ctx = router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer admin"

	err := mw(next)(ctx)
	assert.ErrorIs(t, err, blocked)
	assert.False(t, ctx.NextCalled)
	assert.Equal(t, []string{"user-1", "admin-1"}, seen)
}

func TestJWTWare_FilterAndSuccessHandler(t *testing.T) {
	successCalls := 0
	mw := jwtware.New(jwtware.Config{
		TokenValidator: staticValidator(),
		ErrorHandler:   passthroughErrors,
		Filter: func(c router.Context) bool {
			return c.Header("X-Skip-Auth") == "1"
		},
		SuccessHandler: func(router.Context) error {
			successCalls++
			return nil
		},
	})

	ctx := router.NewMockContext()
	ctx.HeadersM["X-Skip-Auth"] = "1"
	require.NoError(t, mw(next)(ctx))
	assert.True(t, ctx.NextCalled)
	assert.Equal(t, 0, successCalls)

	ctx = router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer good"
	ctx.On("Locals", "user", mock.Anything).Return(nil)
	require.NoError(t, mw(next)(ctx))
	assert.Equal(t, 1, successCalls)
}

func TestJWTWare_RequiresValidator(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.New(jwtware.Config{})
	})
}

func TestGetExtractors(t *testing.T) {
	assert.Len(t, jwtware.GetExtractors("header:Authorization,cookie:jwt,bogus,unknown:x"), 2)

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Token abc"
	raw, err := jwtware.ExtractRawTokenFromContext(ctx, jwtware.GetExtractors("header:Authorization", "Token"))
	require.NoError(t, err)
	assert.Equal(t, "abc", raw)

	_, err = jwtware.ExtractRawTokenFromContext(ctx, nil)
	assert.ErrorIs(t, err, jwtware.ErrJWTMissingOrMalformed)
}
