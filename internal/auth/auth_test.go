package auth_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"samay/internal/apperr"
	"samay/internal/auth"
	"samay/internal/config"
	"samay/internal/storage"
	"samay/internal/testutil"
)

func newService(t *testing.T) (*auth.Service, *storage.Storage) {
	t.Helper()
	st := testutil.NewStorage(t)
	svc, err := auth.NewService(st, config.AuthConfig{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	return svc, st
}

func register(t *testing.T, svc *auth.Service, email string) *auth.Response {
	t.Helper()
	res, err := svc.Register(context.Background(), auth.RegisterInput{
		Email:    email,
		Password: "Passw0rd!",
		Name:     "Test User",
	})
	require.NoError(t, err)
	return res
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := auth.NewService(testutil.NewStorage(t), config.AuthConfig{})
	assert.Error(t, err)
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, auth.ValidatePassword("Abcdefg1"))
	for _, pw := range []string{"Ab1", "abcdefg1", "ABCDEFG1", "Abcdefgh"} {
		err := auth.ValidatePassword(pw)
		assert.Equal(t, http.StatusBadRequest, apperr.Status(err), pw)
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)

	res := register(t, svc, "  New@Example.com ")
	assert.Equal(t, "new@example.com", res.User.Email)
	assert.Equal(t, storage.RoleUser, res.User.Role)
	assert.NotEmpty(t, res.Token)

	stored, err := st.Users.GetByEmail(ctx, nil, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, "Passw0rd!", stored.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("Passw0rd!")))

	_, err = svc.Register(ctx, auth.RegisterInput{Email: "new@example.com", Password: "Passw0rd!", Name: "x"})
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.Status)
	assert.Equal(t, "USER_EXISTS", ae.Code)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newService(t)
	cases := []auth.RegisterInput{
		{Email: "not-an-email", Password: "Passw0rd!", Name: "x"},
		{Email: "a@example.com", Password: "short", Name: "x"},
		{Email: "a@example.com", Password: "Passw0rd!", Name: "  "},
	}
	for _, in := range cases {
		_, err := svc.Register(context.Background(), in)
		assert.Equal(t, http.StatusBadRequest, apperr.Status(err), in.Email)
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	reg := register(t, svc, "u@example.com")

	res, err := svc.Login(ctx, auth.LoginInput{Email: "U@example.com", Password: "Passw0rd!"})
	require.NoError(t, err)
	assert.NotEqual(t, reg.Token, res.Token, "each login issues a distinct session")

	user, err := svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, user.ID)

	claims := &auth.Claims{}
	_, err = jwt.ParseWithClaims(res.Token, claims, func(*jwt.Token) (any, error) { return []byte("test-secret"), nil })
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.Subject)
	assert.Equal(t, storage.RoleUser, claims.Role)
	assert.WithinDuration(t, claims.IssuedAt.Add(time.Hour), claims.ExpiresAt.Time, time.Second)

	for _, in := range []auth.LoginInput{
		{Email: "u@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "Passw0rd!"},
	} {
		_, err := svc.Login(ctx, in)
		var ae *apperr.Error
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, http.StatusUnauthorized, ae.Status)
		assert.Equal(t, "INVALID_CREDENTIALS", ae.Code)
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	reg := register(t, svc, "u@example.com")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reg.User.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":   "",
		"garbage": "not.a.jwt",
		"forged":  forged,
	} {
		_, err := svc.Authenticate(ctx, token)
		assert.Equal(t, http.StatusUnauthorized, apperr.Status(err), name)
	}

	// a validly signed token without a session row is rejected too
	unsessioned, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reg.User.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, unsessioned)
	assert.Equal(t, http.StatusUnauthorized, apperr.Status(err))
}

func TestAuthenticate_Expired(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	reg := register(t, svc, "u@example.com")

	svc.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err := svc.Authenticate(ctx, reg.Token)
	assert.Equal(t, http.StatusUnauthorized, apperr.Status(err))

	n, err := svc.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	reg := register(t, svc, "u@example.com")

	require.NoError(t, svc.Logout(ctx, reg.Token))
	_, err := svc.Authenticate(ctx, reg.Token)
	assert.Equal(t, http.StatusUnauthorized, apperr.Status(err))

	err = svc.Logout(ctx, reg.Token)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "INVALID_TOKEN", ae.Code)
}

func TestMe(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	reg := register(t, svc, "u@example.com")

	me, err := svc.Me(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", me.Email)

	_, err = svc.Me(ctx, "missing")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "USER_NOT_FOUND", ae.Code)
}
