// Package auth issues and verifies the agent JWTs used by the HTTP API and
// the realtime gateway.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject = "sub"
	claimUserID  = "user_id"
	claimRole    = "role"

	// ContextKey is where the middleware stores the parsed token.
	ContextKey = "user"
)

// Roles.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// ErrInvalidToken is returned for tokens that fail verification or carry no
// usable principal.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated caller.
type Principal struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
// Tokens are read from the Authorization header or the token query param.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		ContextKey:    ContextKey,
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// PrincipalFromContext extracts the principal from the verified token.
func PrincipalFromContext(c echo.Context) (Principal, error) {
	token, ok := c.Get(ContextKey).(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	p, err := principalFromToken(token)
	if err != nil {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return p, nil
}

// RequireRole rejects principals without the given role.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := PrincipalFromContext(c)
			if err != nil {
				return err
			}
			if p.Role != role {
				return echo.NewHTTPError(http.StatusForbidden, "requires role "+role)
			}
			return next(c)
		}
	}
}

// GenerateToken creates a signed JWT for the principal.
func GenerateToken(p Principal, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if p.UserID <= 0 {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}
	role := p.Role
	if role == "" {
		role = RoleAgent
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	id := strconv.FormatInt(p.UserID, 10)
	claims := jwt.MapClaims{
		claimSubject: id,
		claimUserID:  id,
		claimRole:    role,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken verifies a raw token outside of echo.
func ParseToken(raw, secret string) (Principal, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return principalFromToken(token)
}

func principalFromToken(token *jwt.Token) (Principal, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	raw := claimString(claims, claimUserID)
	if raw == "" {
		raw = claimString(claims, claimSubject)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, fmt.Errorf("%w: user id missing", ErrInvalidToken)
	}
	role := claimString(claims, claimRole)
	if role == "" {
		role = RoleAgent
	}
	return Principal{UserID: id, Role: role}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
