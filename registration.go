package identity

import (
	"context"
	"encoding/json"
	"net/mail"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// RequestRegistrationMessage starts a client onboarding: it stages the
// account data and issues a verification code to the email channel.
type RequestRegistrationMessage struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Location  string `json:"location,omitempty"`
	Password  string `json:"password"`

	OnResponse func(resp *RequestRegistrationResponse)
}

func (m RequestRegistrationMessage) Type() string { return "registration.request" }

type RequestRegistrationResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	// Code is only populated when the engine runs with ExposeCodes;
	// production deployments never see it.
	Code string `json:"development_code,omitempty"`
}

type RequestRegistrationHandler struct {
	repo     RepositoryManager
	pending  PendingStore
	notifier Notifier
	config   Config
	logger   Logger
}

func NewRequestRegistrationHandler(repo RepositoryManager, pending PendingStore, notifier Notifier, cfg Config) *RequestRegistrationHandler {
	return &RequestRegistrationHandler{
		repo:     repo,
		pending:  pending,
		notifier: ensureNotifier(notifier),
		config:   cfg.WithDefaults(),
		logger:   defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *RequestRegistrationHandler) WithLogger(logger Logger) *RequestRegistrationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestRegistrationHandler) Execute(ctx context.Context, event RequestRegistrationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during registration request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestRegistrationHandler) execute(ctx context.Context, event RequestRegistrationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email, err := normalizeEmail(event.Email)
	if err != nil {
		return err
	}

	if err := validatePasswordLength(event.Password); err != nil {
		return err
	}

	phone, err := NormalizePhone(event.Phone)
	if err != nil {
		return err
	}

	// Check before issuing anything so codes never leak to an email
	// that is already claimed.
	if _, err := h.repo.Principals().GetByEmail(ctx, email); err == nil {
		return ErrAlreadyRegistered(email)
	} else if !goerrors.IsNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for existing account")
	}

	passwordHash, err := HashPassword(event.Password, h.config.BcryptCost)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	payload, err := json.Marshal(RegistrationPayload{
		FirstName:    event.FirstName,
		LastName:     event.LastName,
		Phone:        phone,
		Location:     event.Location,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to stage registration payload")
	}

	code, expiresAt, err := issueCode(ctx, h.pending, KindRegistration, email, payload, h.config)
	if err != nil {
		return err
	}

	dispatchCode(h.notifier, h.logger, email, KindRegistration, code)

	resp := &RequestRegistrationResponse{
		Message:   "Verification code sent. Check your email.",
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

// VerifyRegistrationMessage finalizes the onboarding by checking the
// submitted code against the pending registration.
type VerifyRegistrationMessage struct {
	Email string `json:"email"`
	Code  string `json:"emailOTP"`

	OnResponse func(resp *VerifyRegistrationResponse)
}

func (m VerifyRegistrationMessage) Type() string { return "registration.verify" }

type VerifyRegistrationResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type VerifyRegistrationHandler struct {
	repo    RepositoryManager
	pending PendingStore
	logger  Logger
}

func NewVerifyRegistrationHandler(repo RepositoryManager, pending PendingStore) *VerifyRegistrationHandler {
	return &VerifyRegistrationHandler{
		repo:    repo,
		pending: pending,
		logger:  defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyRegistrationHandler) WithLogger(logger Logger) *VerifyRegistrationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyRegistrationHandler) Execute(ctx context.Context, event VerifyRegistrationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during registration verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyRegistrationHandler) execute(ctx context.Context, event VerifyRegistrationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email, err := normalizeEmail(event.Email)
	if err != nil {
		return err
	}

	rec, err := h.pending.Consume(ctx, KindRegistration, ActionKey(email), HashCode(trimCode(event.Code)))
	if err != nil {
		return err
	}

	staged := RegistrationPayload{}
	if err := json.Unmarshal(rec.Payload, &staged); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode staged registration")
	}

	account := &Principal{
		Role:               RoleClient,
		FirstName:          staged.FirstName,
		LastName:           staged.LastName,
		Email:              email,
		Phone:              staged.Phone,
		Location:           staged.Location,
		PasswordHash:       staged.PasswordHash,
		MustChangePassword: false,
	}
	if id, err := hashid.NewUUID(email); err == nil {
		account.ID = id
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Principals().CreateTx(ctx, tx, account)
		if err != nil {
			// Unique email index: the address got claimed between
			// request and verify.
			return ErrAlreadyRegistered(email)
		}
		account = created
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "registration transaction failed")
	}

	if event.OnResponse != nil {
		event.OnResponse(&VerifyRegistrationResponse{
			UserID: account.ID.String(),
			Email:  account.Email,
		})
	}

	return nil
}

// issueCode generates a fresh code, persists the pending record
// (superseding any prior one for the key) and returns the plaintext to
// the caller. The plaintext is never retrievable again.
func issueCode(ctx context.Context, pending PendingStore, kind PendingKind, email string, payload []byte, cfg Config) (string, time.Time, error) {
	code, err := GenerateCode(cfg.CodeLength)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code")
	}

	expiresAt := time.Now().Add(cfg.CodeTTL)
	rec := &PendingAction{
		Kind:              kind,
		CodeHash:          HashCode(code),
		ExpiresAt:         expiresAt.Unix(),
		AttemptsRemaining: cfg.MaxAttempts,
		Payload:           payload,
	}

	if err := pending.Issue(ctx, kind, ActionKey(email), rec, cfg.CodeTTL); err != nil {
		return "", time.Time{}, err
	}

	return code, expiresAt, nil
}

// dispatchCode sends the notification off the request path; state is
// already persisted, delivery is best effort.
func dispatchCode(notifier Notifier, logger Logger, email string, kind PendingKind, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()

		if err := notifier.SendCode(ctx, email, kind, code); err != nil {
			ensureLogger(logger).Warn("code delivery failed", "email", email, "kind", kind, "error", err)
		}
	}()
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", goerrors.New("a valid email address is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	return email, nil
}

func validatePasswordLength(password string) error {
	if len(password) < MinPasswordLength {
		return goerrors.New("password must be at least 8 characters long", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}
