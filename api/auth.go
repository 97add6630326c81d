package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"board-sync/domain"
	"board-sync/internal/consts"
)

// Auth validates bearer tokens and yields their subject as the owner.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte
}

// NewAuth creates an Auth validating RS256 tokens against jwks.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
}

// NewTestAuth creates an Auth accepting HMAC tokens signed with secret.
func NewTestAuth(secret string) *Auth {
	return &Auth{TestMode: true, TestSecret: []byte(secret)}
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("bad auth header")
	}
	tokenStr := parts[1]
	if strings.Count(tokenStr, ".") != 2 {
		return "", errors.New("bad auth header")
	}

	var (
		token *jwt.Token
		err   error
	)
	if a.TestMode {
		token, err = jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		if a.JWKS == nil {
			return "", errors.New("no signing keys configured")
		}
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
		token, err = parser.Parse(tokenStr, a.JWKS.Keyfunc)
	}
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if !a.TestMode {
		now := time.Now().Add(time.Minute).Unix()
		if !claims.VerifyExpiresAt(now, true) {
			return "", errors.New("token expired")
		}
		if !claims.VerifyNotBefore(now, false) {
			return "", errors.New("token not valid yet")
		}
		if !claims.VerifyAudience(a.Audience, false) {
			return "", errors.New("invalid audience")
		}
		if !claims.VerifyIssuer(a.Issuer, false) {
			return "", errors.New("invalid issuer")
		}
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

var errMissingToken = errors.New("missing bearer token")

// resolveOwner finds the owner of a relay request. With an authenticator
// configured the owner comes from the bearer token only; otherwise the
// userId query parameter is used.
func resolveOwner(c echo.Context, auth Authenticator) (string, int, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		if token := c.QueryParam(consts.TokenQueryParam); token != "" {
			header = "Bearer " + token
		}
	}
	if auth != nil {
		if header == "" {
			return "", http.StatusUnauthorized, errMissingToken
		}
		owner, err := auth.UserIDFromAuthHeader(header)
		if err != nil {
			return "", http.StatusUnauthorized, err
		}
		return owner, http.StatusOK, nil
	}
	owner := strings.TrimSpace(c.QueryParam(consts.OwnerQueryParam))
	if owner == "" {
		return "", http.StatusBadRequest, domain.ErrMissingOwner
	}
	return owner, http.StatusOK, nil
}
