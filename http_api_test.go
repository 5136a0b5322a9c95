package identity_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/quartzestates/identity-core"
)

type apiFixture struct {
	app    *fiber.App
	repo   *fakeRepo
	tokens *identity.TokenService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := newFakeRepo()
	store := newTestPendingStore(t)
	tokens := identity.NewTokenService([]byte("test-signing-key"), 1, "test-issuer", nil)

	controller := identity.NewAPIController(repo, store, nil, tokens, testConfig())

	app := fiber.New()
	controller.RegisterRoutes(app)

	return &apiFixture{app: app, repo: repo, tokens: tokens}
}

func (f *apiFixture) post(t *testing.T, path string, payload any) (int, map[string]any) {
	t.Helper()
	return f.postWithToken(t, path, payload, "")
}

func (f *apiFixture) postWithToken(t *testing.T, path string, payload any, token string) (int, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	res, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	body := map[string]any{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))

	return res.StatusCode, body
}

func (f *apiFixture) mint(t *testing.T, p *identity.Principal) string {
	t.Helper()

	token, err := f.tokens.Mint(p)
	require.NoError(t, err)
	return token
}

func TestRegistrationEndpoints(t *testing.T) {
	registerBody := func() map[string]any {
		return map[string]any{
			"firstName":       "Pepe",
			"lastName":        "Rone",
			"email":           "pepe.rone@example.com",
			"phone":           "+971501234567",
			"location":        "Dubai Marina",
			"password":        "Passw0rd!",
			"confirmPassword": "Passw0rd!",
		}
	}

	t.Run("request then verify creates the account", func(t *testing.T) {
		f := newAPIFixture(t)

		status, body := f.post(t, "/auth/register/request", registerBody())
		require.Equal(t, http.StatusOK, status)
		assert.NotEmpty(t, body["message"])

		code, _ := body["developmentCode"].(string)
		require.Len(t, code, 6)

		status, body = f.post(t, "/auth/register/verify", map[string]any{
			"email":    "pepe.rone@example.com",
			"emailOTP": code,
		})
		require.Equal(t, http.StatusOK, status)
		assert.NotEmpty(t, body["userId"])
		assert.Equal(t, "pepe.rone@example.com", body["email"])

		status, body = f.post(t, "/auth/login", map[string]any{
			"email":    "pepe.rone@example.com",
			"password": "Passw0rd!",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "client", body["userType"])
		assert.Equal(t, false, body["requiresPasswordChange"])
		assert.NotEmpty(t, body["token"])
	})

	t.Run("wrong code surfaces the remaining budget", func(t *testing.T) {
		f := newAPIFixture(t)

		status, _ := f.post(t, "/auth/register/request", registerBody())
		require.Equal(t, http.StatusOK, status)

		status, body := f.post(t, "/auth/register/verify", map[string]any{
			"email":    "pepe.rone@example.com",
			"emailOTP": "000000",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_code", body["textCode"])
		assert.Equal(t, float64(4), body["attemptsRemaining"])
	})

	t.Run("duplicate email is flagged for the client", func(t *testing.T) {
		f := newAPIFixture(t)
		f.repo.principals.add(&identity.Principal{
			Role:         identity.RoleClient,
			Email:        "pepe.rone@example.com",
			PasswordHash: mustHash(t, "Passw0rd!"),
		})

		status, body := f.post(t, "/auth/register/request", registerBody())
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "already_registered", body["textCode"])
		assert.Equal(t, true, body["alreadyRegistered"])
	})

	t.Run("mismatched confirmation is rejected", func(t *testing.T) {
		f := newAPIFixture(t)

		payload := registerBody()
		payload["confirmPassword"] = "Different1!"

		status, body := f.post(t, "/auth/register/request", payload)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.NotEmpty(t, body["error"])
	})

	t.Run("verify without a pending request is not found", func(t *testing.T) {
		f := newAPIFixture(t)

		status, body := f.post(t, "/auth/register/verify", map[string]any{
			"email":    "pepe.rone@example.com",
			"emailOTP": "123456",
		})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "verification_not_found", body["textCode"])
	})
}

func TestLoginEndpoints(t *testing.T) {
	seed := func(t *testing.T, f *apiFixture) {
		f.repo.principals.add(&identity.Principal{
			Role:         identity.RoleAdmin,
			Email:        "ada@example.com",
			PasswordHash: mustHash(t, "StaffSecret1"),
		})
		f.repo.principals.add(&identity.Principal{
			Role:               identity.RoleClient,
			Email:              "cleo@example.com",
			Phone:              "+971501234567",
			PasswordHash:       mustHash(t, "ClientSecret1"),
			MustChangePassword: true,
		})
	}

	t.Run("unified login reports the principal type", func(t *testing.T) {
		f := newAPIFixture(t)
		seed(t, f)

		status, body := f.post(t, "/auth/login", map[string]any{
			"email":    "ada@example.com",
			"password": "StaffSecret1",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "staff", body["userType"])

		status, body = f.post(t, "/auth/login", map[string]any{
			"email":    "cleo@example.com",
			"password": "ClientSecret1",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "client", body["userType"])
		assert.Equal(t, true, body["requiresPasswordChange"])
	})

	t.Run("staff endpoint turns clients away", func(t *testing.T) {
		f := newAPIFixture(t)
		seed(t, f)

		status, body := f.post(t, "/auth/login/staff", map[string]any{
			"email":    "cleo@example.com",
			"password": "ClientSecret1",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_credentials", body["textCode"])
	})

	t.Run("bad credentials and malformed input read the same", func(t *testing.T) {
		f := newAPIFixture(t)
		seed(t, f)

		status, wrong := f.post(t, "/auth/login", map[string]any{
			"email":    "ada@example.com",
			"password": "nope",
		})
		assert.Equal(t, http.StatusUnauthorized, status)

		status, malformed := f.post(t, "/auth/login", map[string]any{
			"email":    "not-an-email",
			"password": "whatever",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, wrong["error"], malformed["error"])
		assert.Equal(t, wrong["textCode"], malformed["textCode"])
	})
}

func TestPasswordEndpoints(t *testing.T) {
	seed := func(t *testing.T, f *apiFixture) *identity.Principal {
		return f.repo.principals.add(&identity.Principal{
			Role:               identity.RoleClient,
			Email:              "cleo@example.com",
			Phone:              "+971501234567",
			PasswordHash:       mustHash(t, "OldSecret1"),
			MustChangePassword: true,
		})
	}

	t.Run("reset round trip", func(t *testing.T) {
		f := newAPIFixture(t)
		seed(t, f)

		status, body := f.post(t, "/auth/password-reset/request", map[string]any{
			"email": "cleo@example.com",
			"phone": "+971 50 123 4567",
		})
		require.Equal(t, http.StatusOK, status)

		code, _ := body["debugCode"].(string)
		require.Len(t, code, 6)

		status, body = f.post(t, "/auth/password-reset", map[string]any{
			"email":       "cleo@example.com",
			"phone":       "+971501234567",
			"otp":         code,
			"newPassword": "NewSecret1",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])

		status, body = f.post(t, "/auth/login", map[string]any{
			"email":    "cleo@example.com",
			"password": "NewSecret1",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, false, body["requiresPasswordChange"])
	})

	t.Run("reset request with the wrong phone is not found", func(t *testing.T) {
		f := newAPIFixture(t)
		seed(t, f)

		status, _ := f.post(t, "/auth/password-reset/request", map[string]any{
			"email": "cleo@example.com",
			"phone": "+971509999999",
		})
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("password change clears the forced flag", func(t *testing.T) {
		f := newAPIFixture(t)
		p := seed(t, f)

		status, body := f.postWithToken(t, "/auth/password-change", map[string]any{
			"userId":      p.ID.String(),
			"newPassword": "Chosen0ne!",
		}, f.mint(t, p))
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])

		status, body = f.post(t, "/auth/login", map[string]any{
			"email":    "cleo@example.com",
			"password": "Chosen0ne!",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, false, body["requiresPasswordChange"])
	})

	t.Run("password change requires a session", func(t *testing.T) {
		f := newAPIFixture(t)
		p := seed(t, f)

		status, body := f.post(t, "/auth/password-change", map[string]any{
			"userId":      p.ID.String(),
			"newPassword": "Chosen0ne!",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.NotEmpty(t, body["error"])
	})

	t.Run("clients cannot change another account's password", func(t *testing.T) {
		f := newAPIFixture(t)
		p := seed(t, f)
		other := f.repo.principals.add(&identity.Principal{
			Role:         identity.RoleClient,
			Email:        "mallory@example.com",
			PasswordHash: mustHash(t, "Mallory01!"),
		})

		status, _ := f.postWithToken(t, "/auth/password-change", map[string]any{
			"userId":      p.ID.String(),
			"newPassword": "Chosen0ne!",
		}, f.mint(t, other))
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("staff may reset any account's password", func(t *testing.T) {
		f := newAPIFixture(t)
		p := seed(t, f)
		admin := f.repo.principals.add(&identity.Principal{
			Role:         identity.RoleAdmin,
			Email:        "ada@example.com",
			PasswordHash: mustHash(t, "StaffSecret1"),
		})

		status, body := f.postWithToken(t, "/auth/password-change", map[string]any{
			"userId":      p.ID.String(),
			"newPassword": "Chosen0ne!",
		}, f.mint(t, admin))
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
	})

	t.Run("password change validates the id shape", func(t *testing.T) {
		f := newAPIFixture(t)
		p := seed(t, f)

		status, body := f.postWithToken(t, "/auth/password-change", map[string]any{
			"userId":      "not-a-uuid",
			"newPassword": "Chosen0ne!",
		}, f.mint(t, p))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.NotEmpty(t, body["error"])
	})
}
