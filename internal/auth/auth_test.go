package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-location-simulator/internal/models"
)

func newOperatorService(t *testing.T) *Service {
	t.Helper()
	base := NewService("test-secret", time.Hour)
	hash, err := base.HashPassword("s3cret-pass")
	require.NoError(t, err)
	return NewService("test-secret", time.Hour, models.Operator{
		Username:     "dispatch",
		PasswordHash: hash,
		Role:         models.RoleOperator,
	})
}

func TestNewService_Defaults(t *testing.T) {
	service := NewService("", 0)
	assert.NotNil(t, service)
	assert.Equal(t, []byte(defaultSecret), service.jwtSecret)
	assert.Equal(t, 24*time.Hour, service.tokenExp)
}

func TestNewService_SkipsIncompleteOperators(t *testing.T) {
	service := NewService("x", time.Hour,
		models.Operator{Username: "", PasswordHash: "h"},
		models.Operator{Username: "nohash"},
	)
	assert.Empty(t, service.operators)
}

func TestService_CheckPassword(t *testing.T) {
	service := NewService("x", time.Hour)

	password := "testpassword123"
	hash, err := service.HashPassword(password)
	require.NoError(t, err)
	assert.NotEqual(t, password, hash)

	assert.True(t, service.CheckPassword(password, hash))
	assert.False(t, service.CheckPassword("wrongpassword", hash))
}

func TestService_Login(t *testing.T) {
	service := newOperatorService(t)

	t.Run("valid credentials", func(t *testing.T) {
		resp, err := service.Login("dispatch", "s3cret-pass")
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "dispatch", resp.Username)
		assert.Equal(t, models.RoleOperator, resp.Role)
		assert.Greater(t, resp.ExpiresAt, time.Now().Unix())

		claims, err := service.ValidateToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "dispatch", claims.Subject)
		assert.Equal(t, models.RoleOperator, claims.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := service.Login("dispatch", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := service.Login("ghost", "s3cret-pass")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestService_ValidateToken(t *testing.T) {
	service := NewService("test-secret", time.Hour)

	token, _, err := service.GenerateToken("fleet-location-simulator", models.RoleService)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "fleet-location-simulator", claims.Subject)
	assert.Equal(t, models.RoleService, claims.Role)

	_, err = service.ValidateToken("invalid-token")
	assert.Equal(t, ErrInvalidToken, err)

	_, err = service.ValidateToken("Bearer " + token)
	assert.NoError(t, err)

	other := NewService("other-secret", time.Hour)
	_, err = other.ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ValidateToken_UnknownRole(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	token, _, err := service.GenerateToken("someone", models.Role("superuser"))
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ExpiredToken(t *testing.T) {
	service := &Service{jwtSecret: []byte("test-secret"), tokenExp: -time.Minute}
	token, _, err := service.GenerateToken("someone", models.RoleAdmin)
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestService_ExtractTokenFromHeader(t *testing.T) {
	service := NewService("", 0)

	extracted, err := service.ExtractTokenFromHeader("Bearer valid-token")
	assert.NoError(t, err)
	assert.Equal(t, "valid-token", extracted)

	for _, header := range []string{"", "InvalidFormat", "Bearer ", "Basic abc"} {
		_, err = service.ExtractTokenFromHeader(header)
		assert.Equal(t, ErrInvalidToken, err, "header %q", header)
	}
}
