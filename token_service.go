package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// SessionClaims are the claims minted on a successful login
type SessionClaims struct {
	jwt.RegisteredClaims
	UID           string        `json:"uid"`
	Email         string        `json:"email"`
	Role          PrincipalRole `json:"role"`
	PrincipalType PrincipalType `json:"typ"`
}

// TokenService mints and validates session tokens with a local HS256
// key.
type TokenService struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	logger          Logger
}

func NewTokenService(signingKey []byte, expirationHours int, issuer string, logger Logger) *TokenService {
	if expirationHours <= 0 {
		expirationHours = DefaultTokenExpiration
	}
	return &TokenService{
		signingKey:      signingKey,
		tokenExpiration: expirationHours,
		issuer:          issuer,
		logger:          ensureLogger(logger),
	}
}

// Mint signs a session token for the authenticated principal.
func (s *TokenService) Mint(p *Principal) (string, error) {
	now := time.Now()

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.tokenExpiration) * time.Hour)),
		},
		UID:           p.ID.String(),
		Email:         p.Email,
		Role:          p.Role,
		PrincipalType: p.Type(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		s.logger.Error("failed to sign session token", "error", err)
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

// Validate parses a raw token and returns its claims.
func (s *TokenService) Validate(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, goerrors.New("unexpected token signing method", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized)
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid session token").
			WithCode(goerrors.CodeUnauthorized)
	}

	if !token.Valid {
		return nil, goerrors.New("invalid session token", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	return claims, nil
}
