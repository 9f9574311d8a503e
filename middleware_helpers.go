package auth

import (
	"context"

	"github.com/goliatone/go-router"

	"github.com/goliatone/go-shelf-auth/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so consumers can use auth helpers directly.
type ValidationListener = jwtware.ValidationListener

// ContextEnricherAdapter adapts jwtware.AuthClaims to auth.AuthClaims and
// stores them in the standard context for downstream handlers.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// AccountValidationListener rejects tokens whose subject is no longer an
// active, live account.
func AccountValidationListener(auther *Auther) ValidationListener {
	return func(ctx router.Context, claims jwtware.AuthClaims) error {
		id, err := ParseAccountID(claims.UserID())
		if err != nil {
			return ErrUserInactive
		}
		_, err = auther.ValidateAccount(ctx.Context(), id)
		return err
	}
}
