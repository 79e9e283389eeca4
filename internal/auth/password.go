// ABOUTME: Password strength policy and bcrypt hashing helpers
// ABOUTME: Enforces length, character class and blacklist rules before hashing

package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// ErrWeakPassword is returned when a password fails the strength policy.
var ErrWeakPassword = errors.New("password does not meet security requirements")

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 12

// passwordSymbols is the punctuation set of which at least one character is required.
const passwordSymbols = `!@#$%^&*()_+-=[]{}|;:'",.<>?/~` + "`"

// passwordBlacklist holds common passwords rejected regardless of composition.
// Matching is case-insensitive.
var passwordBlacklist = map[string]struct{}{
	"password":       {},
	"password123":    {},
	"password123!":   {},
	"password1234":   {},
	"123456789012":   {},
	"qwertyuiop12":   {},
	"adminpassword":  {},
	"administrator":  {},
	"letmein12345":   {},
	"welcome12345":   {},
	"changeme1234":   {},
	"iloveyou1234":   {},
	"sunshine1234":   {},
	"monkey123456":   {},
	"dragon123456":   {},
	"trustno1!234":   {},
	"bibliotheca1":   {},
	"bibliotheca123": {},
}

// IsPasswordStrong reports whether a password satisfies the policy: minimum
// length, at least one uppercase letter, one lowercase letter, one digit and
// one symbol, and not a blacklisted common password.
func IsPasswordStrong(password string) bool {
	if len(password) < MinPasswordLength {
		return false
	}

	if _, blacklisted := passwordBlacklist[strings.ToLower(password)]; blacklisted {
		return false
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}

	return hasUpper && hasLower && hasDigit && hasSymbol
}

// PasswordRequirements returns the policy as user-facing requirement lines.
func PasswordRequirements() []string {
	return []string{
		fmt.Sprintf("At least %d characters long", MinPasswordLength),
		"At least one uppercase letter",
		"At least one lowercase letter",
		"At least one number",
		"At least one special character",
		"Not a commonly used password",
	}
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyHash is a valid bcrypt hash used for timing-safe comparison when the
// target user does not exist, preventing username enumeration.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// CompareDummy performs a throwaway bcrypt comparison to keep failed lookups
// indistinguishable from failed password checks.
func CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}
