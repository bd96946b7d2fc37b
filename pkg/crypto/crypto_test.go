package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	password := []byte("test-password-123")
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}

	key := DeriveKey(password, salt, TestParams)
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	if !bytes.Equal(key, DeriveKey(password, salt, TestParams)) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}

	if bytes.Equal(key, DeriveKey([]byte("different-password"), salt, TestParams)) {
		t.Error("DeriveKey() with different password should produce different key")
	}

	otherSalt, _ := NewSalt()
	if bytes.Equal(key, DeriveKey(password, otherSalt, TestParams)) {
		t.Error("DeriveKey() with different salt should produce different key")
	}
}

func TestDefaultParams(t *testing.T) {
	if DefaultParams.Memory != 64*1024 {
		t.Errorf("DefaultParams.Memory = %d, want %d (64MB)", DefaultParams.Memory, 64*1024)
	}
	if DefaultParams.Time != 3 {
		t.Errorf("DefaultParams.Time = %d, want 3", DefaultParams.Time)
	}
	if DefaultParams.Threads != 4 {
		t.Errorf("DefaultParams.Threads = %d, want 4", DefaultParams.Threads)
	}
	if err := DefaultParams.Validate(); err != nil {
		t.Errorf("DefaultParams.Validate() error = %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"test params", TestParams, false},
		{"zero time", Params{Time: 0, Memory: 64, Threads: 1}, true},
		{"tiny memory", Params{Time: 1, Memory: 4, Threads: 1}, true},
		{"zero threads", Params{Time: 1, Memory: 64, Threads: 0}, true},
		{"huge memory", Params{Time: 1, Memory: maxMemoryKiB + 1, Threads: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Validate() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	testCases := [][]byte{
		{},
		[]byte("a"),
		[]byte("secret data to encrypt"),
		bytes.Repeat([]byte("x"), 64*1024),
	}

	for _, plaintext := range testCases {
		ciphertext, nonce, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if len(nonce) != NonceLength {
			t.Errorf("Encrypt() nonce length = %d, want %d", len(nonce), NonceLength)
		}
		got, err := Decrypt(key, ciphertext, nonce)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("round trip mismatch for %d-byte plaintext", len(plaintext))
		}
	}
}

func TestEncryptInvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33} {
		if _, _, err := Encrypt(make([]byte, n), []byte("x")); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("Encrypt() with %d-byte key error = %v, want ErrInvalidKeyLength", n, err)
		}
	}
}

func TestDecryptFailures(t *testing.T) {
	key := make([]byte, KeyLength)
	_, _ = rand.Read(key)
	ciphertext, nonce, err := Encrypt(key, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	wrongKey := make([]byte, KeyLength)
	_, _ = rand.Read(wrongKey)
	if _, err := Decrypt(wrongKey, ciphertext, nonce); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrDecryptionFailed", err)
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff
	if _, err := Decrypt(key, tampered, nonce); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() with tampered ciphertext error = %v, want ErrDecryptionFailed", err)
	}

	if _, err := Decrypt(key, ciphertext[:4], nonce); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() with short ciphertext error = %v, want ErrDecryptionFailed", err)
	}

	if _, err := Decrypt(key, ciphertext, nonce[:8]); !errors.Is(err, ErrInvalidNonceLength) {
		t.Errorf("Decrypt() with short nonce error = %v, want ErrInvalidNonceLength", err)
	}
}

func TestSealOpen(t *testing.T) {
	pass := []byte("correct horse battery staple")
	plaintext := []byte(`[{"site":"a.com"}]`)

	blob, err := Seal(pass, plaintext, TestParams)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	got, err := Open(pass, blob)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}

	p, err := BlobParams(blob)
	if err != nil {
		t.Fatalf("BlobParams() error = %v", err)
	}
	if p != TestParams {
		t.Errorf("BlobParams() = %+v, want %+v", p, TestParams)
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	pass := []byte("password")
	a, _ := Seal(pass, []byte("same"), TestParams)
	b, _ := Seal(pass, []byte("same"), TestParams)
	if bytes.Equal(a, b) {
		t.Error("Seal() should produce different blobs for identical input")
	}
}

func TestOpenRejectsBadBlobs(t *testing.T) {
	pass := []byte("password")
	blob, err := Seal(pass, []byte("payload"), TestParams)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	badMagic := append([]byte(nil), blob...)
	badMagic[0] = 'X'

	badParams := append([]byte(nil), blob...)
	badParams[12] = 0 // threads

	tests := []struct {
		name string
		pass []byte
		blob []byte
	}{
		{"wrong passphrase", []byte("other"), blob},
		{"empty", pass, nil},
		{"truncated header", pass, blob[:10]},
		{"truncated body", pass, blob[:headerLength+3]},
		{"bad magic", pass, badMagic},
		{"bad params", pass, badParams},
		{"plain json", pass, []byte(`[{"site":"x","user":"y","password":"z"}]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.pass, tt.blob); !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Open() error = %v, want ErrDecryptionFailed", err)
			}
		})
	}
}

func TestSealRejectsInvalidParams(t *testing.T) {
	if _, err := Seal([]byte("p"), []byte("x"), Params{}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Seal() error = %v, want ErrInvalidParams", err)
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte("sensitive")
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte %d = %d, want 0", i, b)
		}
	}
	SecureWipe(nil)
}
