package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iurnickita/freightrate/internal/auth/config"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/token"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	a := NewAuth(config.Config{Secret: "secret"})

	var got model.Caller
	h := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		got = CallerFromRequest(r)
	})

	caller := model.Caller{UserCode: "100001", Organization: "acme", Role: model.RoleAdmin}
	s, err := token.BuildJWTString("secret", caller, time.Hour)
	require.NoError(t, err)

	// заголовок
	r := httptest.NewRequest(http.MethodGet, "/api/quotes/1", nil)
	r.Header.Set("Authorization", "Bearer "+s)
	w := httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, caller, got)

	// куки
	got = model.Caller{}
	r = httptest.NewRequest(http.MethodGet, "/api/quotes/1", nil)
	r.AddCookie(&http.Cookie{Name: cookieUserToken, Value: s})
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, caller, got)

	// без токена, подделанный заголовок не помогает
	r = httptest.NewRequest(http.MethodGet, "/api/quotes/1", nil)
	r.Header.Set(HeaderRoleKey, "admin")
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/quotes/1", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
