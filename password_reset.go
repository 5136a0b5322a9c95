package identity

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RequestPasswordResetMessage starts the forgot password protocol.
// Both channels have to match a principal: phone acts as a second
// factor against email-only takeover.
type RequestPasswordResetMessage struct {
	Email string `json:"email"`
	Phone string `json:"phone"`

	OnResponse func(resp *RequestPasswordResetResponse)
}

func (m RequestPasswordResetMessage) Type() string { return "password_reset.request" }

type RequestPasswordResetResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	// Code is only populated when the engine runs with ExposeCodes.
	Code string `json:"debug_code,omitempty"`
}

type RequestPasswordResetHandler struct {
	repo     RepositoryManager
	pending  PendingStore
	notifier Notifier
	config   Config
	logger   Logger
}

func NewRequestPasswordResetHandler(repo RepositoryManager, pending PendingStore, notifier Notifier, cfg Config) *RequestPasswordResetHandler {
	return &RequestPasswordResetHandler{
		repo:     repo,
		pending:  pending,
		notifier: ensureNotifier(notifier),
		config:   cfg.WithDefaults(),
		logger:   defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *RequestPasswordResetHandler) WithLogger(logger Logger) *RequestPasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestPasswordResetHandler) Execute(ctx context.Context, event RequestPasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestPasswordResetHandler) execute(ctx context.Context, event RequestPasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email, err := normalizeEmail(event.Email)
	if err != nil {
		return err
	}

	phone, err := NormalizePhone(event.Phone)
	if err != nil {
		return err
	}

	principal, err := h.repo.Principals().GetByEmailAndPhone(ctx, email, phone)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return goerrors.New("no account matches this email and phone", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for reset")
	}

	payload, err := json.Marshal(ResetPayload{PrincipalID: principal.ID})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to stage reset payload")
	}

	code, expiresAt, err := issueCode(ctx, h.pending, KindPasswordReset, email, payload, h.config)
	if err != nil {
		return err
	}

	dispatchCode(h.notifier, h.logger, email, KindPasswordReset, code)

	resp := &RequestPasswordResetResponse{
		Message:   "Reset code sent. Check your email.",
		ExpiresAt: expiresAt,
	}
	if h.config.ExposeCodes {
		resp.Code = code
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// ResetPasswordMessage finalizes the reset: verifies the code and
// replaces the credential.
type ResetPasswordMessage struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Code        string `json:"otp"`
	NewPassword string `json:"newPassword"`

	OnResponse func(resp *ResetPasswordResponse)
}

func (m ResetPasswordMessage) Type() string { return "password_reset.finalize" }

type ResetPasswordResponse struct {
	Success bool `json:"success"`
}

type ResetPasswordHandler struct {
	repo    RepositoryManager
	pending PendingStore
	config  Config
	logger  Logger
}

func NewResetPasswordHandler(repo RepositoryManager, pending PendingStore, cfg Config) *ResetPasswordHandler {
	return &ResetPasswordHandler{
		repo:    repo,
		pending: pending,
		config:  cfg.WithDefaults(),
		logger:  defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *ResetPasswordHandler) WithLogger(logger Logger) *ResetPasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ResetPasswordHandler) Execute(ctx context.Context, event ResetPasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResetPasswordHandler) execute(ctx context.Context, event ResetPasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email, err := normalizeEmail(event.Email)
	if err != nil {
		return err
	}

	if err := validatePasswordLength(event.NewPassword); err != nil {
		return err
	}

	phone, err := NormalizePhone(event.Phone)
	if err != nil {
		return err
	}

	rec, err := h.pending.Consume(ctx, KindPasswordReset, ActionKey(email), HashCode(trimCode(event.Code)))
	if err != nil {
		return err
	}

	staged := ResetPayload{}
	if err := json.Unmarshal(rec.Payload, &staged); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode staged reset")
	}

	// The phone binding may have changed between request and verify;
	// the reset only applies if both channels still resolve to the
	// principal the code was issued for.
	principal, err := h.repo.Principals().GetByEmailAndPhone(ctx, email, phone)
	if err != nil || principal.ID != staged.PrincipalID {
		return goerrors.New("account no longer matches this email and phone", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithTextCode(TextCodeResetBindingMoved)
	}

	passwordHash, err := HashPassword(event.NewPassword, h.config.BcryptCost)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return h.repo.Principals().SetPasswordTx(ctx, tx, principal.ID, passwordHash, false)
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	if event.OnResponse != nil {
		event.OnResponse(&ResetPasswordResponse{Success: true})
	}

	return nil
}
