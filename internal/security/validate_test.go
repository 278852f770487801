package security

import (
	"errors"
	"testing"
)

func TestIsValidEmail(t *testing.T) {
	valid := []string{
		"user@example.com",
		"first.last@example.co",
		"with-dash@sub.example.org",
		"under_score@example.io",
	}
	for _, email := range valid {
		if !IsValidEmail(email) {
			t.Errorf("expected %q to be valid", email)
		}
	}

	invalid := []string{
		"",
		"plainaddress",
		"@example.com",
		"user@",
		"user@example",
		"user name@example.com",
		"user@example.toolongtld",
	}
	for _, email := range invalid {
		if IsValidEmail(email) {
			t.Errorf("expected %q to be invalid", email)
		}
	}
}

func TestCheckPasswordStrength(t *testing.T) {
	cases := []struct {
		name     string
		password string
		want     error
	}{
		{"too short", "Ab1!", ErrPasswordTooShort},
		{"no uppercase", "abcdefg1!", ErrPasswordNoUpper},
		{"no lowercase", "ABCDEFG1!", ErrPasswordNoLower},
		{"no digit", "Abcdefg!", ErrPasswordNoDigit},
		{"no symbol", "Abcdefg1", ErrPasswordNoSymbol},
		{"all rules pass", "Abcdefg1!", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckPasswordStrength(tc.password)
			if !errors.Is(err, tc.want) {
				t.Errorf("CheckPasswordStrength(%q) = %v, want %v", tc.password, err, tc.want)
			}
		})
	}
}

func TestCheckPasswordStrengthReportsFirstFailure(t *testing.T) {
	// Missing upper, digit, and symbol: the uppercase rule wins.
	err := CheckPasswordStrength("abcdefgh")
	if !errors.Is(err, ErrPasswordNoUpper) {
		t.Errorf("expected first failing rule (uppercase), got %v", err)
	}
}

func TestDigest(t *testing.T) {
	a := Digest("secret-token")
	b := Digest("secret-token")
	if a != b {
		t.Errorf("digest is not deterministic: %s != %s", a, b)
	}
	if a == Digest("other-token") {
		t.Error("distinct inputs produced the same digest")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
