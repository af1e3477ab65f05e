package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func runAuth(t *testing.T, header string) (*httptest.ResponseRecorder, string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var org string
	h := EchoAuthMiddleware([]byte("secret"))(func(c echo.Context) error {
		org, _ = OrgFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})
	err := h(c)
	return rec, org, err
}

func TestAuthMiddlewareSetsOrg(t *testing.T) {
	tok, err := SignJWT("user-1", "org-1", []byte("secret"), time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	rec, org, err := runAuth(t, "Bearer "+tok)
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Code != http.StatusNoContent || org != "org-1" {
		t.Fatalf("code=%d org=%q", rec.Code, org)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	expired, _ := SignJWT("user-1", "org-1", []byte("secret"), -time.Minute)
	wrongKey, _ := SignJWT("user-1", "org-1", []byte("other"), time.Hour)
	noOrg, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte("secret"))

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"no org", "Bearer " + noOrg, http.StatusForbidden},
	}
	for _, tc := range cases {
		_, _, err := runAuth(t, tc.header)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != tc.code {
			t.Fatalf("%s: expected %d, got %#v", tc.name, tc.code, err)
		}
	}
}
