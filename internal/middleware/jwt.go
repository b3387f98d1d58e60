package middleware

import (
	"encoding/json"
	"fmt"
	"time"

	"labstock/internal/common"
	"labstock/internal/logger"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// Authenticator verifies bearer tokens against the signing keys published in
// a JWKS document.
type Authenticator struct {
	jwks *keyfunc.JWKS
}

// NewJWKSAuthenticator fetches the JWKS at jwksURL and refreshes it in the
// background every refresh interval, and whenever a token names an unknown key.
func NewJWKSAuthenticator(jwksURL string, refresh time.Duration) (*Authenticator, error) {
	log := logger.Named("auth")
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   refresh,
		RefreshRateLimit:  time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Warnw("Failed to refresh JWKS", "url", jwksURL, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", jwksURL, err)
	}
	return &Authenticator{jwks: jwks}, nil
}

// NewStaticAuthenticator verifies against a fixed JWKS document.
func NewStaticAuthenticator(raw json.RawMessage) (*Authenticator, error) {
	jwks, err := keyfunc.NewJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid JWKS document: %w", err)
	}
	return &Authenticator{jwks: jwks}, nil
}

// JWTMiddleware handles JWT token validation. The token subject is stored on
// the request context for common.GetUserIDFromContext.
func (a *Authenticator) JWTMiddleware() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		KeyFunc: a.jwks.Keyfunc,
		SuccessHandler: func(c echo.Context) {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return
			}
			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				return
			}
			c.SetRequest(c.Request().WithContext(common.WithUserID(c.Request().Context(), sub)))
		},
		ErrorHandler: func(c echo.Context, err error) error {
			logger.Named("auth").Debugw("Rejected token", "path", c.Path(), "error", err)
			return common.SendUnauthorizedError(c)
		},
	})
}

// Close stops the background JWKS refresh.
func (a *Authenticator) Close() {
	a.jwks.EndBackground()
}
