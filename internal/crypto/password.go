package crypto

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const minPasswordLength = 12

var commonPasswords = []string{"password", "123456", "qwerty", "letmein", "admin", "welcome"}

// ValidatePassword enforces the minimum strength for a room password: at
// least 12 characters, at least 3 of the 4 character classes, and not a
// well-known password. Enforced before encrypting, never on decode: a peer
// with a weak password should still be readable.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", minPasswordLength)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return errors.New("password must contain at least 3 of: uppercase, lowercase, numbers, special characters")
	}

	lowered := strings.ToLower(password)
	for _, common := range commonPasswords {
		if lowered == common {
			return errors.New("password is too common")
		}
	}

	return nil
}
