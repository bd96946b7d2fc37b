// Package security provides strength scoring, expiry tracking, health
// summaries and password generation for vault records.
package security

import (
	"strings"
	"unicode/utf8"
)

// MinMasterPasswordLength is the shortest accepted master password.
const MinMasterPasswordLength = 8

// Tier is the strength class of a secret.
type Tier int

const (
	TierWeak Tier = iota
	TierMedium
	TierStrong
)

// String returns a human-readable representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierWeak:
		return "Weak"
	case TierMedium:
		return "Medium"
	case TierStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// StrengthScore returns 0..4: one point each for a length of at least 8, an
// ASCII uppercase letter, an ASCII digit, and a character that is not an
// ASCII letter or digit.
func StrengthScore(secret string) int {
	score := 0
	if utf8.RuneCountInString(secret) >= 8 {
		score++
	}

	var upper, digit, special bool
	for _, r := range secret {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case r >= 'a' && r <= 'z':
		default:
			special = true
		}
	}
	for _, ok := range []bool{upper, digit, special} {
		if ok {
			score++
		}
	}
	return score
}

// TierOf classifies a score: 3 or more is strong, 2 is medium, else weak.
func TierOf(score int) Tier {
	switch {
	case score >= 3:
		return TierStrong
	case score == 2:
		return TierMedium
	default:
		return TierWeak
	}
}

// Strength is shorthand for TierOf(StrengthScore(secret)).
func Strength(secret string) Tier {
	return TierOf(StrengthScore(secret))
}

// MasterPasswordCheck is the result of ValidateMasterPassword.
type MasterPasswordCheck struct {
	Valid    bool
	Strength Tier
	Warnings []string
}

// ValidateMasterPassword checks the length rule for account passwords and
// reports advisory warnings.
func ValidateMasterPassword(password string) MasterPasswordCheck {
	check := MasterPasswordCheck{Strength: Strength(password)}
	if utf8.RuneCountInString(password) < MinMasterPasswordLength {
		check.Warnings = append(check.Warnings, "password must be at least 8 characters")
		return check
	}
	check.Valid = true

	if strings.TrimSpace(password) != password {
		check.Warnings = append(check.Warnings, "password has leading or trailing spaces")
	}
	if check.Strength == TierWeak {
		check.Warnings = append(check.Warnings, "consider mixing uppercase letters, digits and symbols")
	}
	return check
}
