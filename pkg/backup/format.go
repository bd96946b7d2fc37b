package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/anima-vault/anima/pkg/crypto"
)

// MagicNumber opens every backup file.
var MagicNumber = [8]byte{'A', 'N', 'I', 'M', 'A', 'B', 'K', 'P'}

// FormatVersion is the current backup format version.
const FormatVersion = 1

// maxHeaderLength bounds the JSON header read from untrusted input.
const maxHeaderLength = 64 * 1024

// KDFParams records how the backup keys were derived.
type KDFParams struct {
	Salt      []byte `json:"salt"`
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
}

func (k KDFParams) params() crypto.Params {
	return crypto.Params{Time: k.Time, Memory: k.MemoryKiB, Threads: k.Threads}
}

// Header is the unencrypted metadata at the start of a backup.
type Header struct {
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Username    string    `json:"username,omitempty"`
	RecordCount int       `json:"record_count"`
	KDF         KDFParams `json:"kdf"`
}

// WriteHeader writes the magic number, header length and header JSON.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("backup: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, ErrInvalidMagic
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, ErrTruncated
	}
	if headerLen > maxHeaderLength {
		return nil, fmt.Errorf("backup: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, ErrTruncated
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal header: %w", err)
	}
	if header.Version < 1 || header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	if header.KDF.params().Validate() != nil || len(header.KDF.Salt) != SaltLength {
		return nil, fmt.Errorf("backup: header has invalid key derivation parameters")
	}
	return &header, nil
}
