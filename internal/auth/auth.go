package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iurnickita/freightrate/internal/auth/config"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/token"
)

type Auth interface {
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

const (
	HeaderUserCodeKey = "X-User-Code"
	HeaderOrgKey      = "X-User-Organization"
	HeaderRoleKey     = "X-User-Role"
	cookieUserToken   = "freightrateUserToken"
)

var ErrNoToken = errors.New("no token")

type auth struct {
	secret string
}

func NewAuth(cfg config.Config) Auth {
	return &auth{secret: cfg.Secret}
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение пользователя
		caller, err := a.getCaller(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(HeaderUserCodeKey, caller.UserCode)
		r.Header.Set(HeaderOrgKey, caller.Organization)
		r.Header.Set(HeaderRoleKey, string(caller.Role))

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getCaller(r *http.Request) (model.Caller, error) {
	// заголовок Authorization, затем куки
	var tokenString string
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		tokenString = bearer
	} else if tokenCookie, err := r.Cookie(cookieUserToken); err == nil {
		tokenString = tokenCookie.Value
	}
	if tokenString == "" {
		return model.Caller{}, ErrNoToken
	}
	return token.GetCaller(a.secret, tokenString)
}

// CallerFromRequest reads the caller set by Middleware.
func CallerFromRequest(r *http.Request) model.Caller {
	return model.Caller{
		UserCode:     r.Header.Get(HeaderUserCodeKey),
		Organization: r.Header.Get(HeaderOrgKey),
		Role:         model.Role(r.Header.Get(HeaderRoleKey)),
	}
}
