package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ChangePasswordMessage replaces a principal's credential and clears
// the forced change flag. No code step: only reachable after an
// authenticated login or an admin issued temporary credential.
type ChangePasswordMessage struct {
	UserID      string `json:"userId"`
	NewPassword string `json:"newPassword"`

	OnResponse func(resp *ChangePasswordResponse)
}

func (m ChangePasswordMessage) Type() string { return "user.change_password" }

type ChangePasswordResponse struct {
	Success bool `json:"success"`
}

type ChangePasswordHandler struct {
	repo   RepositoryManager
	config Config
	logger Logger
}

func NewChangePasswordHandler(repo RepositoryManager, cfg Config) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		repo:   repo,
		config: cfg.WithDefaults(),
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	id, err := uuid.Parse(event.UserID)
	if err != nil {
		return goerrors.New("a valid user id is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	if err := validatePasswordLength(event.NewPassword); err != nil {
		return err
	}

	passwordHash, err := HashPassword(event.NewPassword, h.config.BcryptCost)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return h.repo.Principals().SetPasswordTx(ctx, tx, id, passwordHash, false)
	})
	if err != nil {
		if goerrors.IsNotFound(err) {
			return goerrors.New("account not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to change password")
	}

	if event.OnResponse != nil {
		event.OnResponse(&ChangePasswordResponse{Success: true})
	}

	return nil
}
