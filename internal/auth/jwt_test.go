package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

func TestJWT_RoundTrip(t *testing.T) {
	userID := utils.NewSixID()
	roles := []models.Role{models.RoleBuyer, models.RoleSeller}

	token, err := GenerateJWT(userID, roles, "test-secret", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateJWT(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, roles, claims.Roles)
}

func TestJWT_WrongSecret(t *testing.T) {
	token, err := GenerateJWT(utils.NewSixID(), nil, "test-secret", time.Hour)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)
}

func TestJWT_Expired(t *testing.T) {
	token, err := GenerateJWT(utils.NewSixID(), nil, "test-secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "test-secret")
	assert.Error(t, err)
}

func TestJWT_Garbage(t *testing.T) {
	_, err := ValidateJWT("not-a-token", "test-secret")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cretpass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cretpass", hash)

	assert.True(t, CheckPasswordHash("s3cretpass", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}
