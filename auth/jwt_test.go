package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdb/vortex-gateway/models"
)

func testUser() *models.User {
	return &models.User{
		Username:     "alice",
		Role:         models.RoleEngineer,
		Team:         "core",
		Tier:         models.TierPro,
		IsContractor: false,
	}
}

func TestTokenRoundTrip(t *testing.T) {
	v := NewJWTValidator("secret", 3600)

	token, err := v.GenerateToken(testUser())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "engineer", claims.Role)
	assert.Equal(t, "core", claims.Team)
	assert.Equal(t, "alice", claims.TenantID)
	assert.Equal(t, "pro", claims.Tier)
	assert.False(t, claims.IsContractor)
}

func TestValidateTokenStripsBearerPrefix(t *testing.T) {
	v := NewJWTValidator("secret", 3600)

	token, err := v.GenerateToken(testUser())
	require.NoError(t, err)

	claims, err := v.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTValidator("secret-a", 3600)
	verifier := NewJWTValidator("secret-b", 3600)

	token, err := issuer.GenerateToken(testUser())
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	v := NewJWTValidator("secret", 3600)
	v.expiration = -time.Minute

	token, err := v.GenerateToken(testUser())
	require.NoError(t, err)

	_, err = v.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	v := NewJWTValidator("secret", 3600)

	_, err := v.ValidateToken("not.a.token")
	require.Error(t, err)

	_, err = v.ValidateToken("")
	require.Error(t, err)
}

func TestContractorFlagSurvivesRoundTrip(t *testing.T) {
	v := NewJWTValidator("secret", 3600)

	u := testUser()
	u.IsContractor = true
	token, err := v.GenerateToken(u)
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsContractor)
}

func TestExpirationDefaultsWhenUnset(t *testing.T) {
	v := NewJWTValidator("secret", 0)
	assert.Equal(t, time.Hour, v.expiration)

	v = NewJWTValidator("secret", -5)
	assert.Equal(t, time.Hour, v.expiration)
}
