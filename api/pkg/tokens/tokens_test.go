package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	tg := NewTokenGenerator("test-secret-long-enough-for-hmac", time.Hour)

	token, err := tg.GenerateAccessToken("42", "ops@example.com", "admin", true)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tg.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.True(t, claims.IsSuperuser)
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	tg := NewTokenGenerator("secret-one", time.Hour)
	other := NewTokenGenerator("secret-two", time.Hour)

	token, err := tg.GenerateAccessToken("1", "a@example.com", "user", false)
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestValidateAccessToken_Expired(t *testing.T) {
	tg := NewTokenGenerator("test-secret-long-enough-for-hmac", time.Hour)
	tg.accessTTL = -time.Minute

	token, err := tg.GenerateAccessToken("1", "a@example.com", "user", false)
	require.NoError(t, err)

	_, err = tg.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	tg := NewTokenGenerator("test-secret-long-enough-for-hmac", time.Hour)
	_, err := tg.ValidateAccessToken("not-a-jwt")
	assert.Error(t, err)
}
