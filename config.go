package identity

import "time"

// Defaults for the verification engine. Call sites never hardwire
// these; they always go through Config.
const (
	DefaultCodeLength      = 6
	DefaultCodeTTL         = 10 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultBcryptCost      = 14
	DefaultTokenExpiration = 24
	MinPasswordLength      = 8
)

// Config holds the tunable parameters shared by the registration,
// login, and reset engines.
type Config struct {
	// CodeLength is the number of digits in an issued code
	CodeLength int
	// CodeTTL is how long an issued code stays verifiable
	CodeTTL time.Duration
	// MaxAttempts is the verification budget per issued code
	MaxAttempts int
	// BcryptCost is the hashing cost for stored passwords
	BcryptCost int
	// ExposeCodes echoes issued codes in responses instead of relying
	// on the out-of-band channel. Diagnostic switch for non-production
	// deployments only; gated here, never per call site.
	ExposeCodes bool
	// SigningKey signs session tokens minted on login
	SigningKey string
	// TokenExpiration is the session token lifetime in hours
	TokenExpiration int
	// Issuer is stamped on minted session tokens
	Issuer string
}

// WithDefaults fills any zero field with the package default.
func (c Config) WithDefaults() Config {
	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BcryptCost <= 0 {
		c.BcryptCost = DefaultBcryptCost
	}
	if c.TokenExpiration <= 0 {
		c.TokenExpiration = DefaultTokenExpiration
	}
	return c
}
