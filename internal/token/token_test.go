package token

import (
	"testing"
	"time"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	caller := model.Caller{UserCode: "100001", Organization: "acme", Role: model.RoleEmployee}

	s, err := BuildJWTString("secret", caller, time.Hour)
	require.NoError(t, err)

	got, err := GetCaller("secret", s)
	require.NoError(t, err)
	require.Equal(t, caller, got)

	_, err = GetCaller("other", s)
	require.ErrorIs(t, err, ErrInvalidToken)

	// просроченный токен
	s, err = BuildJWTString("secret", caller, -time.Minute)
	require.NoError(t, err)
	_, err = GetCaller("secret", s)
	require.ErrorIs(t, err, ErrInvalidToken)

	// роль по умолчанию
	s, err = BuildJWTString("secret", model.Caller{UserCode: "1"}, time.Hour)
	require.NoError(t, err)
	got, err = GetCaller("secret", s)
	require.NoError(t, err)
	require.Equal(t, model.RoleCustomer, got.Role)
}
