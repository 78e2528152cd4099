package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
)

// JWTMiddleware resolves the bearer token into a Principal. Requests without
// an Authorization header continue anonymously; the policy engine decides
// what anonymous callers may do. Malformed, expired or revoked tokens, and
// tokens issued before the account was deactivated, are rejected with 401.
func JWTMiddleware(issuer *TokenIssuer, revocations RevocationStore, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return next(c)
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return apperr.HTTPError(apperr.Unauthenticated("INVALID_AUTH_HEADER", "invalid authorization format"))
			}

			p, err := issuer.Parse(strings.TrimSpace(tokenStr))
			if err != nil {
				return apperr.HTTPError(apperr.Unauthenticated("INVALID_TOKEN", "invalid or expired token"))
			}

			ctx := c.Request().Context()
			if revocations != nil {
				revoked, err := revocations.IsRevoked(ctx, p.TokenID)
				if err != nil {
					logger.Error().Err(err).Str("jti", p.TokenID).Msg("revocation lookup failed")
					return apperr.HTTPError(apperr.Unavailable("session store", err))
				}
				if !revoked {
					revoked, err = revocations.IsUserRevoked(ctx, p.UserID, p.IssuedAt)
					if err != nil {
						logger.Error().Err(err).Str("user_id", p.UserID.String()).Msg("revocation lookup failed")
						return apperr.HTTPError(apperr.Unavailable("session store", err))
					}
				}
				if revoked {
					return apperr.HTTPError(apperr.Unauthenticated("TOKEN_REVOKED", "session has ended"))
				}
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, p)))
			c.Set("principal_id", p.UserID.String())
			c.Set("principal_role", string(p.Role))
			return next(c)
		}
	}
}

// BearerToken returns the raw token from the Authorization header.
func BearerToken(c echo.Context) string {
	scheme, token, ok := strings.Cut(c.Request().Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CurrentPrincipal returns the caller resolved by JWTMiddleware, or nil.
func CurrentPrincipal(c echo.Context) *Principal {
	return PrincipalFromContext(c.Request().Context())
}
