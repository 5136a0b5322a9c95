package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	identity "github.com/quartzestates/identity-core"
)

func TestHashPassword(t *testing.T) {
	hash, err := identity.HashPassword("Passw0rd!", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd!", hash)

	require.NoError(t, identity.ComparePasswordAndHash("Passw0rd!", hash))

	err = identity.ComparePasswordAndHash("not-the-password", hash)
	require.Error(t, err)
	assert.True(t, identity.IsTextCode(err, identity.TextCodeInvalidCredentials))
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	first, err := identity.HashPassword("Passw0rd!", bcrypt.MinCost)
	require.NoError(t, err)

	second, err := identity.HashPassword("Passw0rd!", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
