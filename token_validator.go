package auth

import "github.com/goliatone/go-shelf-auth/middleware/jwtware"

// AccessTokenValidator adapts TokenService access validation to the
// jwtware.TokenValidator contract.
func AccessTokenValidator(tokens TokenService) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		if tokens == nil {
			return nil, ErrMissingSigningKey
		}
		claims, err := tokens.ValidateAccess(raw)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}

// RefreshTokenValidator adapts refresh validation. Every failure surfaces as
// ErrAccessDenied so callers cannot tell an expired token from a forged one.
func RefreshTokenValidator(tokens TokenService) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		if tokens == nil {
			return nil, ErrAccessDenied
		}
		claims, err := tokens.ValidateRefresh(raw)
		if err != nil {
			return nil, ErrAccessDenied
		}
		return claims, nil
	})
}
