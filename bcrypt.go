package identity

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword will generate a password hash at the given cost
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", goerrors.New("password cannot be empty", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	if cost <= 0 {
		cost = DefaultBcryptCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext password
// matches the hashed password. Mismatches collapse into the shared
// invalid credentials error so login and reset cannot drift.
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials()
		}
		return err
	}
	return nil
}
