package seal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// LoadKey reads the master key from the environment variable envVar, or from
// path when the variable is empty or unset. The key may be hex or base64
// encoded and must decode to KeySize bytes.
func LoadKey(envVar, path string) ([]byte, error) {
	if envVar != "" {
		if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
			key, err := DecodeKey(v)
			if err != nil {
				return nil, fmt.Errorf("seal key from %s: %w", envVar, err)
			}
			return key, nil
		}
	}

	if path == "" {
		return nil, fmt.Errorf("no seal key configured (set %s or a key file)", envVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seal key file: %w", err)
	}
	key, err := DecodeKey(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("seal key from %s: %w", path, err)
	}
	return key, nil
}

// DecodeKey decodes a hex or base64 key.
func DecodeKey(s string) ([]byte, error) {
	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(s); err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	return nil, fmt.Errorf("key must be %d bytes encoded as hex or base64", KeySize)
}

// GenerateKey returns a random key encoded as hex.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
