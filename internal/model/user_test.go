package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserClone_DoesNotShareState(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	original := User{
		ID:                       "u1",
		RefreshTokens:            []string{"a", "b"},
		FarmLocation:             &FarmLocation{Province: "Gauteng", Coordinates: &Coordinates{Lat: 1, Lon: 2}},
		EmailVerificationExpires: &expires,
	}

	clone := original.Clone()
	clone.RefreshTokens[0] = "changed"
	clone.FarmLocation.Province = "Limpopo"
	clone.FarmLocation.Coordinates.Lat = 99
	*clone.EmailVerificationExpires = time.Time{}

	assert.Equal(t, "a", original.RefreshTokens[0])
	assert.Equal(t, "Gauteng", original.FarmLocation.Province)
	assert.Equal(t, float64(1), original.FarmLocation.Coordinates.Lat)
	assert.Equal(t, expires, *original.EmailVerificationExpires)
}

func TestUserWithoutRefreshToken(t *testing.T) {
	u := User{RefreshTokens: []string{"a", "b", "c"}}

	assert.Equal(t, []string{"a", "c"}, u.WithoutRefreshToken("b"))
	assert.Equal(t, []string{"a", "b", "c"}, u.WithoutRefreshToken("missing"))

	empty := User{}.WithoutRefreshToken("x")
	require.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestUserDisabled(t *testing.T) {
	assert.False(t, User{IsActive: true}.Disabled())
	assert.True(t, User{IsActive: false}.Disabled())
	assert.True(t, User{IsActive: true, IsBlocked: true}.Disabled())
}

func TestSafeUser_OmitsSecrets(t *testing.T) {
	u := User{
		ID:                         "u1",
		Email:                      "a@x.com",
		PasswordHash:               "$2a$12$secret",
		RefreshTokens:              []string{"refresh-secret"},
		EmailVerificationTokenHash: "verify-hash",
		PasswordResetTokenHash:     "reset-hash",
		Role:                       RoleFarmer,
		IsActive:                   true,
	}

	data, err := json.Marshal(u.Safe())
	require.NoError(t, err)

	body := string(data)
	assert.Contains(t, body, `"email":"a@x.com"`)
	assert.NotContains(t, body, "secret")
	assert.NotContains(t, body, "verify-hash")
	assert.NotContains(t, body, "reset-hash")
}
