package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/iurnickita/freightrate/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims - утверждения токена пользователя
type Claims struct {
	jwt.RegisteredClaims
	UserCode     string     `json:"user_code"`
	Organization string     `json:"organization"`
	Role         model.Role `json:"role"`
}

func BuildJWTString(secret string, caller model.Caller, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserCode:     caller.UserCode,
		Organization: caller.Organization,
		Role:         caller.Role,
	}
	tkn := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tkn.SignedString([]byte(secret))
}

func GetCaller(secret, tokenString string) (model.Caller, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return model.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tkn.Valid || claims.UserCode == "" {
		return model.Caller{}, ErrInvalidToken
	}

	switch claims.Role {
	case model.RoleCustomer, model.RoleEmployee, model.RoleAdmin:
	case "":
		claims.Role = model.RoleCustomer
	default:
		return model.Caller{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	return model.Caller{UserCode: claims.UserCode, Organization: claims.Organization, Role: claims.Role}, nil
}
