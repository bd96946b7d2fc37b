// Package crypto seals and opens vault payloads under a pass-phrase.
//
// Payloads are encrypted with AES-256-GCM under a key derived from the
// pass-phrase with Argon2id. A sealed blob carries its own KDF parameters,
// salt and nonce, so it can be opened without any side information:
//
//	"ANM1" | time u32 | memory u32 | threads u8 | salt[16] | nonce[12] | ciphertext
//
// # Example Usage
//
//	blob, err := crypto.Seal([]byte("master password"), payload, crypto.DefaultParams)
//	payload, err := crypto.Open([]byte("master password"), blob)
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of KDF salts in bytes.
	SaltLength = 16

	// maxMemoryKiB caps the memory cost accepted from a blob header (1 GiB).
	maxMemoryKiB = 1024 * 1024
	maxTime      = 64
)

var blobMagic = []byte("ANM1")

// headerLength is magic + time + memory + threads + salt + nonce.
const headerLength = 4 + 4 + 4 + 1 + SaltLength + NonceLength

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32 `json:"time" yaml:"time"`
	Memory  uint32 `json:"memory_kib" yaml:"memory_kib"`
	Threads uint8  `json:"threads" yaml:"threads"`
}

// DefaultParams follow the OWASP recommendation (64 MiB, 3 passes, 4 lanes).
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

// TestParams are cheap parameters for tests. Never use them for real data.
var TestParams = Params{Time: 1, Memory: 8, Threads: 1}

// Validate reports whether p is usable.
func (p Params) Validate() error {
	if p.Time == 0 || p.Time > maxTime {
		return fmt.Errorf("%w: time must be 1..%d", ErrInvalidParams, maxTime)
	}
	if p.Memory < 8 || p.Memory > maxMemoryKiB {
		return fmt.Errorf("%w: memory must be 8..%d KiB", ErrInvalidParams, maxMemoryKiB)
	}
	if p.Threads == 0 {
		return fmt.Errorf("%w: threads must be at least 1", ErrInvalidParams)
	}
	return nil
}

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed covers every way a blob can fail to open.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")

	// ErrInvalidParams indicates unusable Argon2id parameters.
	ErrInvalidParams = errors.New("crypto: invalid key derivation parameters")
)

// DeriveKey derives a 256-bit key from a password using Argon2id.
func DeriveKey(password, salt []byte, p Params) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, KeyLength)
}

// NewSalt returns SaltLength random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with a fresh random nonce.
// The authentication tag is appended to the ciphertext.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt verifies and decrypts AES-256-GCM ciphertext.
func Decrypt(key, ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext under a key derived from passphrase with a fresh salt.
func Seal(passphrase, plaintext []byte, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}

	key := DeriveKey(passphrase, salt, p)
	defer SecureWipe(key)

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(headerLength + len(ciphertext))
	buf.Write(blobMagic)
	_ = binary.Write(&buf, binary.BigEndian, p.Time)
	_ = binary.Write(&buf, binary.BigEndian, p.Memory)
	buf.WriteByte(p.Threads)
	buf.Write(salt)
	buf.Write(nonce)
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// Open reverses Seal. Any malformed, truncated or forged blob, as well as a
// wrong passphrase, yields ErrDecryptionFailed.
func Open(passphrase, blob []byte) ([]byte, error) {
	p, salt, nonce, ciphertext, err := parseBlob(blob)
	if err != nil {
		return nil, err
	}

	key := DeriveKey(passphrase, salt, p)
	defer SecureWipe(key)

	return Decrypt(key, ciphertext, nonce)
}

// BlobParams returns the KDF parameters recorded in a sealed blob.
func BlobParams(blob []byte) (Params, error) {
	p, _, _, _, err := parseBlob(blob)
	return p, err
}

func parseBlob(blob []byte) (p Params, salt, nonce, ciphertext []byte, err error) {
	if len(blob) < headerLength || !bytes.Equal(blob[:4], blobMagic) {
		return Params{}, nil, nil, nil, ErrDecryptionFailed
	}
	p.Time = binary.BigEndian.Uint32(blob[4:8])
	p.Memory = binary.BigEndian.Uint32(blob[8:12])
	p.Threads = blob[12]
	if p.Validate() != nil {
		return Params{}, nil, nil, nil, ErrDecryptionFailed
	}
	off := 13
	salt = blob[off : off+SaltLength]
	off += SaltLength
	nonce = blob[off : off+NonceLength]
	off += NonceLength
	return p, salt, nonce, blob[off:], nil
}

// SecureWipe overwrites a byte slice with zeros.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// keep the writes from being optimised away
	runtime.KeepAlive(b)
}
