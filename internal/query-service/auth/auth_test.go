package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService() *Service {
	return &Service{Secret: []byte("test-secret"), Log: zap.NewNop()}
}

func TestLoginSetsCookieAndMeReadsIt(t *testing.T) {
	svc := newTestService()

	rec := httptest.NewRecorder()
	svc.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/login?username=alice&wallet=9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var authCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			authCookie = c
		}
	}
	require.NotNil(t, authCookie)
	require.True(t, authCookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(authCookie)
	rec = httptest.NewRecorder()
	svc.MeHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "alice")
}

func TestLoginRequiresParams(t *testing.T) {
	svc := newTestService()
	rec := httptest.NewRecorder()
	svc.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/login?username=alice", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeRejectsMissingAndInvalidToken(t *testing.T) {
	svc := newTestService()

	rec := httptest.NewRecorder()
	svc.MeHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "not-a-jwt"})
	rec = httptest.NewRecorder()
	svc.MeHandler(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenSignedWithOtherSecretIsRejected(t *testing.T) {
	other := &Service{Secret: []byte("other-secret"), Log: zap.NewNop()}
	token, err := other.createToken("mallory", "wallet")
	require.NoError(t, err)

	svc := newTestService()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	rec := httptest.NewRecorder()
	svc.MeHandler(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
