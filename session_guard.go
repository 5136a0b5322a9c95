package identity

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// ClaimsLocalsKey is where the guard stores the validated claims on the
// request.
const ClaimsLocalsKey = "session_claims"

// SessionGuard validates bearer tokens on protected routes and makes
// the claims available to downstream handlers.
type SessionGuard struct {
	tokens *TokenService
	logger Logger
}

func NewSessionGuard(tokens *TokenService) *SessionGuard {
	return &SessionGuard{
		tokens: tokens,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the guard.
func (g *SessionGuard) WithLogger(logger Logger) *SessionGuard {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// RequireSession rejects requests without a valid bearer token.
func (g *SessionGuard) RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return renderGuardError(c, err)
		}

		claims, err := g.tokens.Validate(raw)
		if err != nil {
			g.logger.Debug("session guard rejected token: ", "error", err)
			return renderGuardError(c, goerrors.New("invalid or expired session", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized))
		}

		c.Locals(ClaimsLocalsKey, claims)
		c.SetUserContext(WithClaimsContext(c.UserContext(), claims))

		return c.Next()
	}
}

// GuardClaims extracts the claims the guard stored on the request.
func GuardClaims(c *fiber.Ctx) (*SessionClaims, bool) {
	claims, ok := c.Locals(ClaimsLocalsKey).(*SessionClaims)
	return claims, ok
}

// CanActFor reports whether the session may operate on the given
// principal: themselves, or any principal when the session belongs to
// staff.
func (s *SessionClaims) CanActFor(userID string) bool {
	if s == nil {
		return false
	}
	if s.PrincipalType == TypeStaff {
		return true
	}
	return s.UID == userID
}

func bearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", goerrors.New("missing or malformed authorization header", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}
	return strings.TrimSpace(parts[1]), nil
}

func renderGuardError(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "unauthorized")
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": richErr.Message,
	})
}
