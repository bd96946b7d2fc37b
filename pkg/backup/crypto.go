package backup

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/anima-vault/anima/pkg/crypto"
)

const (
	// SaltLength is the length of the backup salt in bytes.
	SaltLength = 32

	// HMACLength is the length of the HMAC-SHA256 in bytes.
	HMACLength = 32
)

const (
	hkdfInfoEncryption = "anima-backup-encryption"
	hkdfInfoMAC        = "anima-backup-mac"
)

// deriveKeys stretches the passphrase with Argon2id, then splits the result
// into independent encryption and MAC keys.
func deriveKeys(passphrase []byte, kdf KDFParams) (encKey, macKey []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, ErrEmptyPassword
	}

	masterKey := crypto.DeriveKey(passphrase, kdf.Salt, kdf.params())
	defer crypto.SecureWipe(masterKey)

	encKey, err = deriveHKDF(masterKey, hkdfInfoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to derive encryption key: %w", err)
	}
	macKey, err = deriveHKDF(masterKey, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("backup: failed to derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

func deriveHKDF(secret []byte, info string) ([]byte, error) {
	key := make([]byte, crypto.KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// encryptPayload returns nonce || ciphertext.
func encryptPayload(plaintext, key []byte) ([]byte, error) {
	ciphertext, nonce, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("backup: encryption failed: %w", err)
	}
	return append(nonce, ciphertext...), nil
}

func decryptPayload(data, key []byte) ([]byte, error) {
	if len(data) < crypto.NonceLength {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := crypto.Decrypt(key, data[crypto.NonceLength:], data[:crypto.NonceLength])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func computeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
