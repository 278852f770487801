// Package security holds the local account-protection pieces: input
// validation, login rate limiting and the audit trail.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}$`)

// IsValidEmail reports whether the address has a plausible mailbox format.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

var (
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	digitPattern   = regexp.MustCompile(`[0-9]`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordNoUpper  = errors.New("password must contain at least one uppercase letter")
	ErrPasswordNoLower  = errors.New("password must contain at least one lowercase letter")
	ErrPasswordNoDigit  = errors.New("password must contain at least one digit")
	ErrPasswordNoSymbol = errors.New("password must contain at least one special character")
)

// CheckPasswordStrength applies the five strength rules in order and returns
// the first one that fails, or nil when all pass.
func CheckPasswordStrength(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	if !upperPattern.MatchString(password) {
		return ErrPasswordNoUpper
	}
	if !lowerPattern.MatchString(password) {
		return ErrPasswordNoLower
	}
	if !digitPattern.MatchString(password) {
		return ErrPasswordNoDigit
	}
	if !specialPattern.MatchString(password) {
		return ErrPasswordNoSymbol
	}
	return nil
}

// Digest returns the hex-encoded SHA-256 of the input. It exists for
// comparing submitted secrets against stored digests; account passwords go
// through bcrypt in the auth backend instead.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
