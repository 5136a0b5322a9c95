package identity

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// APIController exposes the engines as JSON endpoints. It owns no
// state beyond its collaborators so it can run on any number of
// replicas.
type APIController struct {
	Logger              Logger
	Guard               *SessionGuard
	RequestRegistration *RequestRegistrationHandler
	VerifyRegistration  *VerifyRegistrationHandler
	Resolver            *LoginResolver
	RequestReset        *RequestPasswordResetHandler
	ResetPassword       *ResetPasswordHandler
	ChangePassword      *ChangePasswordHandler
}

type APIControllerOption func(*APIController)

func WithAPILogger(logger Logger) APIControllerOption {
	return func(c *APIController) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// NewAPIController wires all engines against shared collaborators.
func NewAPIController(repo RepositoryManager, pending PendingStore, notifier Notifier, tokens *TokenService, cfg Config, opts ...APIControllerOption) *APIController {
	cfg = cfg.WithDefaults()

	c := &APIController{
		Logger:              defLogger{},
		RequestRegistration: NewRequestRegistrationHandler(repo, pending, notifier, cfg),
		VerifyRegistration:  NewVerifyRegistrationHandler(repo, pending),
		Resolver:            NewLoginResolver(repo, tokens),
		RequestReset:        NewRequestPasswordResetHandler(repo, pending, notifier, cfg),
		ResetPassword:       NewResetPasswordHandler(repo, pending, cfg),
		ChangePassword:      NewChangePasswordHandler(repo, cfg),
	}
	if tokens != nil {
		c.Guard = NewSessionGuard(tokens)
	}

	for _, opt := range opts {
		opt(c)
	}

	c.RequestRegistration.WithLogger(c.Logger)
	c.VerifyRegistration.WithLogger(c.Logger)
	c.Resolver.WithLogger(c.Logger)
	c.RequestReset.WithLogger(c.Logger)
	c.ResetPassword.WithLogger(c.Logger)
	c.ChangePassword.WithLogger(c.Logger)
	if c.Guard != nil {
		c.Guard.WithLogger(c.Logger)
	}

	return c
}

// RegisterRoutes mounts the endpoints under /auth.
func (a *APIController) RegisterRoutes(app *fiber.App) {
	auth := app.Group("/auth")

	auth.Post("/register/request", a.RegisterRequestPost)
	auth.Post("/register/verify", a.RegisterVerifyPost)
	auth.Post("/login", a.LoginPost)
	auth.Post("/login/staff", a.StaffLoginPost)
	auth.Post("/password-reset/request", a.PasswordResetRequestPost)
	auth.Post("/password-reset", a.PasswordResetPost)

	// Password change is only reachable with a live session; the other
	// endpoints bootstrap one.
	if a.Guard != nil {
		auth.Post("/password-change", a.Guard.RequireSession(), a.PasswordChangePost)
	} else {
		auth.Post("/password-change", a.PasswordChangePost)
	}
}

// RegisterRequestPayload is the registration request body
type RegisterRequestPayload struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Location        string `json:"location"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Validate will run validation rules
func (r RegisterRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Phone, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLength, 100)),
		validation.Field(&r.ConfirmPassword, validation.By(ValidateStringEqualsWhenSet(r.Password))),
	)
}

func (a *APIController) RegisterRequestPost(c *fiber.Ctx) error {
	payload := new(RegisterRequestPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("register request parse payload: ", "error", err)
		return renderParseError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	var res *RequestRegistrationResponse
	req := RequestRegistrationMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Location:  payload.Location,
		Password:  payload.Password,
		OnResponse: func(resp *RequestRegistrationResponse) {
			res = resp
		},
	}

	if err := a.RequestRegistration.Execute(c.Context(), req); err != nil {
		a.Logger.Error("register request error: ", "error", err)
		return a.renderError(c, err)
	}

	body := fiber.Map{"message": res.Message}
	if res.Code != "" {
		body["developmentCode"] = res.Code
	}

	return c.JSON(body)
}

// RegisterVerifyPayload is the verification body; registration fields
// beyond email ride along from the original form and are ignored.
type RegisterVerifyPayload struct {
	Email    string `json:"email"`
	EmailOTP string `json:"emailOTP"`
}

// Validate will run validation rules
func (r RegisterVerifyPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.EmailOTP, validation.Required, is.Digit),
	)
}

func (a *APIController) RegisterVerifyPost(c *fiber.Ctx) error {
	payload := new(RegisterVerifyPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("register verify parse payload: ", "error", err)
		return renderParseError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	var res *VerifyRegistrationResponse
	req := VerifyRegistrationMessage{
		Email: payload.Email,
		Code:  payload.EmailOTP,
		OnResponse: func(resp *VerifyRegistrationResponse) {
			res = resp
		},
	}

	if err := a.VerifyRegistration.Execute(c.Context(), req); err != nil {
		a.Logger.Error("register verify error: ", "error", err)
		return a.renderError(c, err)
	}

	return c.JSON(fiber.Map{
		"userId": res.UserID,
		"email":  res.Email,
	})
}

// LoginPayload is the credential pair for both login endpoints
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *APIController) LoginPost(c *fiber.Ctx) error {
	return a.handleLogin(c, false)
}

func (a *APIController) StaffLoginPost(c *fiber.Ctx) error {
	return a.handleLogin(c, true)
}

func (a *APIController) handleLogin(c *fiber.Ctx, staffOnly bool) error {
	payload := new(LoginPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("login parse payload: ", "error", err)
		return renderParseError(c, err)
	}

	if err := payload.Validate(); err != nil {
		// Malformed credentials are still just invalid credentials to
		// the outside.
		return a.renderError(c, ErrInvalidCredentials())
	}

	var result *LoginResult
	var err error
	if staffOnly {
		result, err = a.Resolver.StaffLogin(c.Context(), payload.Email, payload.Password)
	} else {
		result, err = a.Resolver.Login(c.Context(), payload.Email, payload.Password)
	}
	if err != nil {
		return a.renderError(c, err)
	}

	body := fiber.Map{
		"userId":                 result.UserID,
		"email":                  result.Email,
		"requiresPasswordChange": result.RequiresPasswordChange,
	}
	if !staffOnly {
		body["userType"] = result.UserType
	}
	if result.Token != "" {
		body["token"] = result.Token
	}

	return c.JSON(body)
}

// ResetRequestPayload is the forgot password request body
type ResetRequestPayload struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Validate will run validation rules
func (r ResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Phone, validation.Required),
	)
}

func (a *APIController) PasswordResetRequestPost(c *fiber.Ctx) error {
	payload := new(ResetRequestPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("reset request parse payload: ", "error", err)
		return renderParseError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	var res *RequestPasswordResetResponse
	req := RequestPasswordResetMessage{
		Email: payload.Email,
		Phone: payload.Phone,
		OnResponse: func(resp *RequestPasswordResetResponse) {
			res = resp
		},
	}

	if err := a.RequestReset.Execute(c.Context(), req); err != nil {
		a.Logger.Error("reset request error: ", "error", err)
		return a.renderError(c, err)
	}

	body := fiber.Map{"message": res.Message}
	if res.Code != "" {
		body["debugCode"] = res.Code
	}

	return c.JSON(body)
}

// ResetFinalizePayload carries the code and the replacement password
type ResetFinalizePayload struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// Validate will run validation rules
func (r ResetFinalizePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Phone, validation.Required),
		validation.Field(&r.OTP, validation.Required, is.Digit),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(MinPasswordLength, 100)),
	)
}

func (a *APIController) PasswordResetPost(c *fiber.Ctx) error {
	payload := new(ResetFinalizePayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("reset parse payload: ", "error", err)
		return renderParseError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	var res *ResetPasswordResponse
	req := ResetPasswordMessage{
		Email:       payload.Email,
		Phone:       payload.Phone,
		Code:        payload.OTP,
		NewPassword: payload.NewPassword,
		OnResponse: func(resp *ResetPasswordResponse) {
			res = resp
		},
	}

	if err := a.ResetPassword.Execute(c.Context(), req); err != nil {
		a.Logger.Error("reset error: ", "error", err)
		return a.renderError(c, err)
	}

	return c.JSON(fiber.Map{"success": res.Success})
}

// ChangePasswordPayload replaces the credential of a logged in user
type ChangePasswordPayload struct {
	UserID      string `json:"userId"`
	NewPassword string `json:"newPassword"`
}

// Validate will run validation rules
func (r ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, is.UUID),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(MinPasswordLength, 100)),
	)
}

func (a *APIController) PasswordChangePost(c *fiber.Ctx) error {
	payload := new(ChangePasswordPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("password change parse payload: ", "error", err)
		return renderParseError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	if claims, ok := GuardClaims(c); ok && !claims.CanActFor(payload.UserID) {
		return a.renderError(c, goerrors.New("cannot change another account's password", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized))
	}

	var res *ChangePasswordResponse
	req := ChangePasswordMessage{
		UserID:      payload.UserID,
		NewPassword: payload.NewPassword,
		OnResponse: func(resp *ChangePasswordResponse) {
			res = resp
		},
	}

	if err := a.ChangePassword.Execute(c.Context(), req); err != nil {
		a.Logger.Error("password change error: ", "error", err)
		return a.renderError(c, err)
	}

	return c.JSON(fiber.Map{"success": res.Success})
}

func (a *APIController) renderError(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "unexpected error")
	}

	body := fiber.Map{"error": richErr.Message}
	if richErr.TextCode != "" {
		body["textCode"] = richErr.TextCode
	}
	if richErr.TextCode == TextCodeAlreadyRegistered {
		body["alreadyRegistered"] = true
	}
	if n, ok := AttemptsRemaining(richErr); ok {
		body["attemptsRemaining"] = n
	}

	return c.Status(statusFromCategory(richErr.Category)).JSON(body)
}

func renderParseError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "failed to parse request body",
	})
}

func renderValidationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func statusFromCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryRateLimit:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// ValidateStringEqualsWhenSet checks equality only when the value is
// present; the original client does not always send the confirmation
// field.
func ValidateStringEqualsWhenSet(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != "" && s != str {
			return errors.New("values must match")
		}
		return nil
	}
}
