package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"time"

	"github.com/anima-vault/anima/pkg/crypto"
)

const (
	MinUsernameLength = 3
	MinPasswordLength = 8

	// DefaultProfilePicture is the placeholder avatar reference.
	DefaultProfilePicture = "default-avatar"
)

const verifierLabel = "anima-account-verifier"

// Account is the persisted form of a user account. The master password is
// never stored; Verifier proves knowledge of it.
type Account struct {
	Username       string        `json:"username"`
	Salt           []byte        `json:"salt"`
	KDF            crypto.Params `json:"kdf"`
	Verifier       []byte        `json:"verifier"`
	EncryptedVault []byte        `json:"encryptedVault,omitempty"`
	ProfilePicture string        `json:"profilePicture,omitempty"`
	MFAEnabled     bool          `json:"mfaEnabled"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// AccountInfo is the non-secret view of an account.
type AccountInfo struct {
	Username       string    `json:"username"`
	ProfilePicture string    `json:"profilePicture"`
	MFAEnabled     bool      `json:"mfaEnabled"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (a *Account) info() AccountInfo {
	pic := a.ProfilePicture
	if pic == "" {
		pic = DefaultProfilePicture
	}
	return AccountInfo{
		Username:       a.Username,
		ProfilePicture: pic,
		MFAEnabled:     a.MFAEnabled,
		CreatedAt:      a.CreatedAt,
	}
}

// setPassword replaces the salt and verifier for password.
func (a *Account) setPassword(password []byte, p crypto.Params) error {
	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	a.Salt = salt
	a.KDF = p
	a.Verifier = verifier(password, salt, p)
	return nil
}

func (a *Account) checkPassword(password []byte) bool {
	if len(a.Salt) == 0 || len(a.Verifier) == 0 || a.KDF.Validate() != nil {
		return false
	}
	return hmac.Equal(verifier(password, a.Salt, a.KDF), a.Verifier)
}

func verifier(password, salt []byte, p crypto.Params) []byte {
	key := crypto.DeriveKey(password, salt, p)
	defer crypto.SecureWipe(key)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(verifierLabel))
	return mac.Sum(nil)
}

// Outcome describes what Unlock found in an account's vault blob.
type Outcome int

const (
	// OutcomeOK means records were decoded.
	OutcomeOK Outcome = iota
	// OutcomeEmpty means there was no blob or it held no records.
	OutcomeEmpty
	// OutcomeCorrupted means the blob could not be opened or decoded. The
	// session starts empty and the blob is kept under the quarantine key.
	OutcomeCorrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeEmpty:
		return "empty"
	case OutcomeCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}
