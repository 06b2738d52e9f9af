package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestGenerateAndParse(t *testing.T) {
	raw, exp, err := GenerateToken(Principal{UserID: 42, Role: RoleAdmin}, secret, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	p, err := ParseToken(raw, secret)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: 42, Role: RoleAdmin}, p)
	assert.True(t, p.IsAdmin())

	_, err = ParseToken(raw, "other-secret")
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestGenerateDefaultsRole(t *testing.T) {
	raw, _, err := GenerateToken(Principal{UserID: 7}, secret, time.Minute)
	require.NoError(t, err)
	p, err := ParseToken(raw, secret)
	require.NoError(t, err)
	assert.Equal(t, RoleAgent, p.Role)
}

func TestGenerateValidation(t *testing.T) {
	_, _, err := GenerateToken(Principal{}, secret, time.Minute)
	assert.Error(t, err)
	_, _, err = GenerateToken(Principal{UserID: 1}, " ", time.Minute)
	assert.Error(t, err)
	_, _, err = GenerateToken(Principal{UserID: 1}, secret, 0)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		claimUserID: "1",
		"exp":       time.Now().Add(-time.Minute).Unix(),
	})
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = ParseToken(raw, secret)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestMiddlewareAndRole(t *testing.T) {
	e := echo.New()
	g := e.Group("", JWTMiddleware(secret, nil))
	g.GET("/me", func(c echo.Context) error {
		p, err := PrincipalFromContext(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"id": p.UserID, "role": p.Role})
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireRole(RoleAdmin))

	agent, _, err := GenerateToken(Principal{UserID: 3}, secret, time.Hour)
	require.NoError(t, err)
	admin, _, err := GenerateToken(Principal{UserID: 4, Role: RoleAdmin}, secret, time.Hour)
	require.NoError(t, err)

	do := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", "Bearer "+header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	rec := do("/me", agent)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":3,"role":"agent"}`, rec.Body.String())
	assert.Equal(t, http.StatusOK, do("/me?token="+agent, "").Code)

	assert.Equal(t, http.StatusForbidden, do("/admin", agent).Code)
	assert.Equal(t, http.StatusNoContent, do("/admin", admin).Code)
}

func TestPrincipalFromContextMissing(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := PrincipalFromContext(c)
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}
