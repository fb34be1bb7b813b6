package seal

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestSealer_RoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AES256GCM, XChaCha20Poly1305} {
		t.Run(string(alg), func(t *testing.T) {
			s, err := New(alg, testKey(7))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			sealed, err := s.Seal([]byte("sk-live-123"))
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if strings.Contains(sealed, "sk-live") {
				t.Error("Sealed value leaks plaintext")
			}

			got, err := s.Unseal(sealed)
			if err != nil {
				t.Fatalf("Unseal failed: %v", err)
			}
			if string(got) != "sk-live-123" {
				t.Errorf("Expected sk-live-123, got %s", got)
			}
		})
	}
}

func TestSealer_Layout(t *testing.T) {
	s, err := New(AES256GCM, testKey(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sealed, err := s.Seal([]byte("abcd"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("Sealed value is not base64: %v", err)
	}
	// 12-byte nonce, 16-byte tag, 4-byte ciphertext.
	if len(raw) != 12+16+4 {
		t.Errorf("Expected 32 raw bytes, got %d", len(raw))
	}
}

func TestSealer_NonceIsFresh(t *testing.T) {
	s, _ := New(AES256GCM, testKey(2))
	a, _ := s.Seal([]byte("same"))
	b, _ := s.Seal([]byte("same"))
	if a == b {
		t.Error("Expected different sealed values for repeated plaintext")
	}
}

func TestSealer_Tamper(t *testing.T) {
	s, _ := New(AES256GCM, testKey(3))
	sealed, _ := s.Seal([]byte("secret-material"))
	raw, _ := base64.StdEncoding.DecodeString(sealed)

	for _, idx := range []int{0, 13, len(raw) - 1} {
		mutated := append([]byte(nil), raw...)
		mutated[idx] ^= 0xff
		_, err := s.Unseal(base64.StdEncoding.EncodeToString(mutated))
		if !errors.Is(err, ErrIntegrity) {
			t.Errorf("byte %d: expected ErrIntegrity, got %v", idx, err)
		}
	}

	if _, err := s.Unseal("not base64!!"); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity for bad encoding, got %v", err)
	}
	if _, err := s.Unseal(base64.StdEncoding.EncodeToString([]byte("short"))); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity for short value, got %v", err)
	}
}

func TestSealer_WrongKeyOrAlgorithm(t *testing.T) {
	a, _ := New(AES256GCM, testKey(4))
	b, _ := New(AES256GCM, testKey(5))
	x, _ := New(XChaCha20Poly1305, testKey(4))

	sealed, _ := a.Seal([]byte("k"))
	if _, err := b.Unseal(sealed); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity with wrong key, got %v", err)
	}
	if _, err := x.Unseal(sealed); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity with wrong algorithm, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(AES256GCM, []byte("short")); err == nil {
		t.Error("Expected error for short key")
	}
	if _, err := New("rot13", testKey(1)); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("Expected ErrUnknownAlgorithm, got %v", err)
	}
	s, err := New("", testKey(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Algorithm() != AES256GCM {
		t.Errorf("Expected default %s, got %s", AES256GCM, s.Algorithm())
	}
}

func TestLoadKey(t *testing.T) {
	hexKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	t.Setenv("KEYGATE_TEST_SEAL_KEY", hexKey)
	key, err := LoadKey("KEYGATE_TEST_SEAL_KEY", "")
	if err != nil {
		t.Fatalf("LoadKey from env failed: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("Expected %d byte key, got %d", KeySize, len(key))
	}

	path := filepath.Join(t.TempDir(), "seal.key")
	b64 := base64.StdEncoding.EncodeToString(testKey(9))
	if err := os.WriteFile(path, []byte(b64+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("KEYGATE_TEST_SEAL_KEY", "")
	key, err = LoadKey("KEYGATE_TEST_SEAL_KEY", path)
	if err != nil {
		t.Fatalf("LoadKey from file failed: %v", err)
	}
	if !bytes.Equal(key, testKey(9)) {
		t.Error("Expected key from file to match")
	}

	if _, err := LoadKey("KEYGATE_TEST_SEAL_KEY", ""); err == nil {
		t.Error("Expected error with no key source")
	}
	if _, err := DecodeKey("abc"); err == nil {
		t.Error("Expected error for undersized key")
	}
}
