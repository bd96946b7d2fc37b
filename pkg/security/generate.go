package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	MinGenerateLength     = 8
	MaxGenerateLength     = 50
	DefaultGenerateLength = 16
)

var (
	ErrInvalidLength = errors.New("security: password length must be between 8 and 50")
	ErrNoCharset     = errors.New("security: select at least one character type")
)

// GenerateOptions selects the length and character classes of a password.
type GenerateOptions struct {
	Length  int
	Upper   bool
	Lower   bool
	Digits  bool
	Symbols bool
	// Exclude removes individual characters, e.g. "0O1lI".
	Exclude string
}

// DefaultGenerateOptions enables every class at the default length.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Length: DefaultGenerateLength, Upper: true, Lower: true, Digits: true, Symbols: true}
}

// Generate returns a random password drawn from the selected classes.
func Generate(opts GenerateOptions) (string, error) {
	if opts.Length < MinGenerateLength || opts.Length > MaxGenerateLength {
		return "", ErrInvalidLength
	}

	charset := buildCharset(opts)
	if charset == "" {
		return "", ErrNoCharset
	}

	max := big.NewInt(int64(len(charset)))
	out := make([]byte, opts.Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("security: failed to generate random number: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}

func buildCharset(opts GenerateOptions) string {
	var b strings.Builder
	if opts.Upper {
		b.WriteString(charsetUppercase)
	}
	if opts.Lower {
		b.WriteString(charsetLowercase)
	}
	if opts.Digits {
		b.WriteString(charsetDigits)
	}
	if opts.Symbols {
		b.WriteString(charsetSymbols)
	}
	if opts.Exclude == "" {
		return b.String()
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(opts.Exclude, r) {
			return -1
		}
		return r
	}, b.String())
}
