package identity_test

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/quartzestates/identity-core"
)

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) (*fakeRepo, *identity.Principal, *identity.ChangePasswordHandler) {
		repo := newFakeRepo()
		p := repo.principals.add(&identity.Principal{
			Role:               identity.RoleClient,
			Email:              "cleo@example.com",
			PasswordHash:       mustHash(t, "Temp0rary1"),
			MustChangePassword: true,
		})
		return repo, p, identity.NewChangePasswordHandler(repo, testConfig())
	}

	t.Run("replaces the credential and clears the forced change", func(t *testing.T) {
		repo, p, handler := seed(t)

		var res *identity.ChangePasswordResponse
		err := handler.Execute(ctx, identity.ChangePasswordMessage{
			UserID:      p.ID.String(),
			NewPassword: "Chosen0ne!",
			OnResponse: func(resp *identity.ChangePasswordResponse) {
				res = resp
			},
		})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.True(t, res.Success)

		login, err := identity.NewLoginResolver(repo, nil).Login(ctx, "cleo@example.com", "Chosen0ne!")
		require.NoError(t, err)
		assert.False(t, login.RequiresPasswordChange)
	})

	t.Run("unknown principal reports not found", func(t *testing.T) {
		_, _, handler := seed(t)

		err := handler.Execute(ctx, identity.ChangePasswordMessage{
			UserID:      uuid.NewString(),
			NewPassword: "Chosen0ne!",
		})
		require.Error(t, err)
		assert.True(t, goerrors.IsNotFound(err))
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		_, _, handler := seed(t)

		err := handler.Execute(ctx, identity.ChangePasswordMessage{
			UserID:      "not-a-uuid",
			NewPassword: "Chosen0ne!",
		})
		require.Error(t, err)
	})

	t.Run("rejects short passwords without touching the record", func(t *testing.T) {
		repo, p, handler := seed(t)

		err := handler.Execute(ctx, identity.ChangePasswordMessage{
			UserID:      p.ID.String(),
			NewPassword: "tiny",
		})
		require.Error(t, err)

		current, err := repo.principals.GetByEmail(ctx, "cleo@example.com")
		require.NoError(t, err)
		assert.True(t, current.MustChangePassword)
		assert.NoError(t, identity.ComparePasswordAndHash("Temp0rary1", current.PasswordHash))
	})
}
