package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// LoginResult is what the resolver reports back to the caller. When
// RequiresPasswordChange is set the caller must route to the change
// password operation before granting anything else.
type LoginResult struct {
	UserID                 string        `json:"userId"`
	Email                  string        `json:"email"`
	Role                   PrincipalRole `json:"role"`
	UserType               PrincipalType `json:"userType"`
	RequiresPasswordChange bool          `json:"requiresPasswordChange"`
	Token                  string        `json:"token,omitempty"`
}

// LoginResolver authenticates a single credential pair and reports the
// principal type without the caller pre-declaring it.
type LoginResolver struct {
	repo   RepositoryManager
	tokens *TokenService
	logger Logger
}

func NewLoginResolver(repo RepositoryManager, tokens *TokenService) *LoginResolver {
	return &LoginResolver{
		repo:   repo,
		tokens: tokens,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the resolver.
func (r *LoginResolver) WithLogger(logger Logger) *LoginResolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Login resolves staff and client principals from one credential pair.
func (r *LoginResolver) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	return r.login(ctx, email, password, false)
}

// StaffLogin is the legacy staff-only path. It shares the same
// verification routine as Login and only matches non-client
// principals.
func (r *LoginResolver) StaffLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	return r.login(ctx, email, password, true)
}

func (r *LoginResolver) login(ctx context.Context, email, password string, staffOnly bool) (*LoginResult, error) {
	principal, err := r.verifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if staffOnly && principal.Type() != TypeStaff {
		return nil, ErrInvalidCredentials()
	}

	result := &LoginResult{
		UserID:                 principal.ID.String(),
		Email:                  principal.Email,
		Role:                   principal.Role,
		UserType:               principal.Type(),
		RequiresPasswordChange: principal.MustChangePassword,
	}

	if r.tokens != nil {
		token, err := r.tokens.Mint(principal)
		if err != nil {
			return nil, err
		}
		result.Token = token
	}

	return result, nil
}

// verifyCredentials is the single password verification routine shared
// by both login paths. Unknown email and wrong password are
// indistinguishable to the caller.
func (r *LoginResolver) verifyCredentials(ctx context.Context, email, password string) (*Principal, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials()
	}

	principal, err := r.repo.Principals().GetByEmail(ctx, normalized)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrInvalidCredentials()
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account during login")
	}

	if err := ComparePasswordAndHash(password, principal.PasswordHash); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "password verification failed")
	}

	return principal, nil
}
