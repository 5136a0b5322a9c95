package identity

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone validates a caller supplied phone number and returns
// its canonical form. Validation is deliberately permissive: any
// international shape with at least ten digits is accepted, and
// numbers libphonenumber recognizes come back in E.164 so the reset
// engine compares apples to apples.
func NormalizePhone(raw string) (string, error) {
	digits := stripNonDigits(raw)
	if len(digits) < 10 {
		return "", goerrors.New("phone number must contain at least 10 digits", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"phone": raw})
	}

	candidate := strings.TrimSpace(raw)
	if !strings.HasPrefix(candidate, "+") {
		candidate = "+" + digits
	}

	if num, err := phonenumbers.Parse(candidate, ""); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164), nil
	}

	// Unparseable but shaped like a phone number: keep the digits with
	// the international prefix so matching stays deterministic.
	return "+" + digits, nil
}

// SamePhone reports whether two raw numbers normalize to the same
// canonical form.
func SamePhone(a, b string) bool {
	na, err := NormalizePhone(a)
	if err != nil {
		return false
	}
	nb, err := NormalizePhone(b)
	if err != nil {
		return false
	}
	return na == nb
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
