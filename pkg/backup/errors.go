package backup

import "errors"

var (
	// ErrImport wraps every failure to read a backup back into records.
	ErrImport = errors.New("backup: unable to import backup")

	// ErrInvalidMagic indicates the data is not an Anima backup.
	ErrInvalidMagic = errors.New("backup: not an Anima backup file")

	// ErrUnsupportedVersion indicates a newer backup format.
	ErrUnsupportedVersion = errors.New("backup: unsupported backup format version")

	// ErrTruncated indicates the file ends early.
	ErrTruncated = errors.New("backup: file is truncated")

	// ErrIntegrityFailed indicates an HMAC mismatch: wrong passphrase or tampering.
	ErrIntegrityFailed = errors.New("backup: integrity check failed")

	// ErrDecryptionFailed indicates the payload could not be decrypted.
	ErrDecryptionFailed = errors.New("backup: decryption failed")

	// ErrInvalidPayload indicates the decrypted payload is not a valid record list.
	ErrInvalidPayload = errors.New("backup: payload is not a valid record list")

	// ErrEmptyPassword indicates an empty passphrase was provided.
	ErrEmptyPassword = errors.New("backup: passphrase cannot be empty")
)
