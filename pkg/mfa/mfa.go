// Package mfa enrolls and verifies time-based one-time passwords (RFC 6238).
package mfa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/anima-vault/anima/pkg/storage"
)

// Issuer labels enrollments in authenticator apps.
const Issuer = "Anima"

// QRSize is the edge length of the enrollment QR code in pixels.
const QRSize = 200

var ErrNoSecret = errors.New("mfa: no secret enrolled for user")

var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Enrollment is a freshly generated TOTP secret.
type Enrollment struct {
	Secret string
	URI    string
	// PNG is a QR code of URI.
	PNG []byte
}

// Enroll generates a new secret for username.
func Enroll(username string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: username,
	})
	if err != nil {
		return nil, fmt.Errorf("mfa: failed to generate key: %w", err)
	}

	img, err := key.Image(QRSize, QRSize)
	if err != nil {
		return nil, fmt.Errorf("mfa: failed to render QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("mfa: failed to encode QR code: %w", err)
	}

	return &Enrollment{Secret: key.Secret(), URI: key.URL(), PNG: buf.Bytes()}, nil
}

// Verify reports whether code is valid for secret now.
func Verify(secret, code string) bool {
	return VerifyAt(secret, code, time.Now())
}

// VerifyAt reports whether code is valid for secret at t, allowing one
// period of clock drift either way.
func VerifyAt(secret, code string, t time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.UTC(), validateOpts)
	return err == nil && ok
}

// Store keeps per-user secrets under a single storage key.
type Store struct{}

// Get returns the secret for username.
func (Store) Get(ctx context.Context, q storage.DBTX, username string) (string, error) {
	secrets, err := loadSecrets(ctx, q)
	if err != nil {
		return "", err
	}
	secret, ok := secrets[username]
	if !ok {
		return "", ErrNoSecret
	}
	return secret, nil
}

// Put stores secret for username, replacing any previous one.
func (Store) Put(ctx context.Context, q storage.DBTX, username, secret string) error {
	secrets, err := loadSecrets(ctx, q)
	if err != nil {
		return err
	}
	secrets[username] = secret
	return storage.PutJSON(ctx, q, storage.KeyMFASecrets, secrets)
}

// Delete removes the secret for username, if any.
func (Store) Delete(ctx context.Context, q storage.DBTX, username string) error {
	secrets, err := loadSecrets(ctx, q)
	if err != nil {
		return err
	}
	if _, ok := secrets[username]; !ok {
		return nil
	}
	delete(secrets, username)
	return storage.PutJSON(ctx, q, storage.KeyMFASecrets, secrets)
}

// DeleteAll removes every stored secret.
func (Store) DeleteAll(ctx context.Context, q storage.DBTX) error {
	return storage.Delete(ctx, q, storage.KeyMFASecrets)
}

func loadSecrets(ctx context.Context, q storage.DBTX) (map[string]string, error) {
	secrets := make(map[string]string)
	if _, err := storage.GetJSON(ctx, q, storage.KeyMFASecrets, &secrets); err != nil {
		return nil, err
	}
	return secrets, nil
}
