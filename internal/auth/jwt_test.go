package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/models"
)

func testManager() *JWTManager {
	return NewJWTManager(&config.JWTConfig{
		Secret:          "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
}

func testServiceAccount() *models.ServiceAccount {
	acct := "acme"
	sa := &models.ServiceAccount{
		Email:     "ops@example.com",
		IsAdmin:   false,
		AccountID: &acct,
	}
	sa.ID = uuid.New()
	return sa
}

func TestGenerateAndValidateTokenPair(t *testing.T) {
	m := testManager()
	sa := testServiceAccount()

	access, refresh, err := m.GenerateTokenPair(sa)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	claims, err := m.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, sa.ID, claims.UserID)
	assert.Equal(t, sa.Email, claims.Email)
	assert.False(t, claims.IsAdmin)
	require.NotNil(t, claims.AccountID)
	assert.Equal(t, "acme", *claims.AccountID)

	userID, err := m.ParseRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, sa.ID, userID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := testManager()
	access, _, err := m.GenerateTokenPair(testServiceAccount())
	require.NoError(t, err)

	other := NewJWTManager(&config.JWTConfig{
		Secret:          "different-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	_, err = other.ValidateToken(access)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{
		Secret:          "test-secret",
		AccessTokenTTL:  -time.Minute,
		RefreshTokenTTL: -time.Minute,
	})
	access, refresh, err := m.GenerateTokenPair(testServiceAccount())
	require.NoError(t, err)

	_, err = m.ValidateToken(access)
	assert.Error(t, err)

	_, err = m.ParseRefreshToken(refresh)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	m := testManager()
	_, err := m.ValidateToken("not.a.token")
	assert.Error(t, err)
}
