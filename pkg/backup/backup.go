// Package backup exports and imports a vault's records as a single
// encrypted file.
//
// File layout:
//
//	magic "ANIMABKP" | u32 header length | header JSON |
//	u32 payload length | nonce || AES-GCM(records JSON) | HMAC-SHA256
//
// The backup salt is fresh for every export. Encryption and MAC keys are
// split from one Argon2id key with HKDF, and the trailing HMAC covers every
// preceding byte.
package backup

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/anima-vault/anima/pkg/crypto"
	"github.com/anima-vault/anima/pkg/model"
)

// Option configures Export.
type Option func(*exportConfig)

type exportConfig struct {
	params   crypto.Params
	now      func() time.Time
	username string
}

// WithParams sets the Argon2id cost parameters.
func WithParams(p crypto.Params) Option {
	return func(c *exportConfig) { c.params = p }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *exportConfig) { c.now = now }
}

// WithUsername records the owning account in the header.
func WithUsername(username string) Option {
	return func(c *exportConfig) { c.username = username }
}

// FileName is the suggested file name for a user's backup.
func FileName(username string) string {
	return "anima_backup_" + username + ".enc"
}

// Export encrypts records under passphrase.
func Export(records []model.Record, passphrase []byte, opts ...Option) ([]byte, error) {
	cfg := exportConfig{params: crypto.DefaultParams, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.params.Validate(); err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.Record{}
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("backup: failed to generate salt: %w", err)
	}
	kdf := KDFParams{
		Salt:      salt,
		Time:      cfg.params.Time,
		MemoryKiB: cfg.params.Memory,
		Threads:   cfg.params.Threads,
	}

	encKey, macKey, err := deriveKeys(passphrase, kdf)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to marshal records: %w", err)
	}
	defer crypto.SecureWipe(payload)

	ciphertext, err := encryptPayload(payload, encKey)
	if err != nil {
		return nil, err
	}

	header := &Header{
		Version:     FormatVersion,
		CreatedAt:   cfg.now().UTC(),
		Username:    cfg.username,
		RecordCount: len(records),
		KDF:         kdf,
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return nil, err
	}
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext)))
	buf.Write(ciphertext)
	buf.Write(computeHMAC(buf.Bytes(), macKey))
	return buf.Bytes(), nil
}

// Import decrypts a backup produced by Export. Every failure is reported as
// ErrImport, and no records are returned unless all of them are valid.
func Import(blob, passphrase []byte) ([]model.Record, error) {
	records, err := importRecords(blob, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImport, err)
	}
	return records, nil
}

func importRecords(blob, passphrase []byte) ([]model.Record, error) {
	header, ciphertext, signed, mac, err := split(blob)
	if err != nil {
		return nil, err
	}

	encKey, macKey, err := deriveKeys(passphrase, header.KDF)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !hmac.Equal(computeHMAC(signed, macKey), mac) {
		return nil, ErrIntegrityFailed
	}

	plaintext, err := decryptPayload(ciphertext, encKey)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	var records []model.Record
	if err := json.Unmarshal(plaintext, &records); err != nil {
		return nil, ErrInvalidPayload
	}
	seen := make(map[string]bool, len(records))
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrInvalidPayload, i+1, err)
		}
		if seen[records[i].ID] {
			return nil, fmt.Errorf("%w: duplicate record id", ErrInvalidPayload)
		}
		seen[records[i].ID] = true
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

// Inspect reads the header without the passphrase.
func Inspect(blob []byte) (*Header, error) {
	return ReadHeader(bytes.NewReader(blob))
}

// split separates a backup into its header, ciphertext, the bytes covered by
// the HMAC, and the HMAC itself.
func split(blob []byte) (header *Header, ciphertext, signed, mac []byte, err error) {
	if len(blob) < len(MagicNumber)+4+HMACLength {
		return nil, nil, nil, nil, ErrInvalidMagic
	}

	r := bytes.NewReader(blob)
	header, err = ReadHeader(r)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, nil, nil, nil, ErrTruncated
	}
	if uint64(r.Len()) != uint64(n)+HMACLength {
		return nil, nil, nil, nil, ErrTruncated
	}

	ciphertext = make([]byte, n)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, nil, nil, nil, ErrTruncated
	}
	signedLen := len(blob) - HMACLength
	return header, ciphertext, blob[:signedLen], blob[signedLen:], nil
}
