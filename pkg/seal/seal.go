// Package seal encrypts credential material at rest.
//
// A sealed value is the standard base64 encoding of nonce || tag || ciphertext
// produced by an AEAD cipher keyed with a 32-byte master key. Two algorithms
// are available: AES-256-GCM (the default) and XChaCha20-Poly1305.
//
// Any modification of a sealed value, or an attempt to open it with the wrong
// key or algorithm, fails with ErrIntegrity.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names an AEAD construction.
type Algorithm string

const (
	// AES256GCM is AES-256 in Galois/Counter mode with a 12-byte nonce.
	AES256GCM Algorithm = "aes-256-gcm"

	// XChaCha20Poly1305 uses a 24-byte random nonce.
	XChaCha20Poly1305 Algorithm = "xchacha20-poly1305"
)

// KeySize is the required master key length in bytes.
const KeySize = 32

var (
	// ErrIntegrity is returned when sealed material fails authentication or
	// is malformed.
	ErrIntegrity = errors.New("sealed material failed integrity check")

	// ErrUnknownAlgorithm is returned for an unsupported algorithm name.
	ErrUnknownAlgorithm = errors.New("unknown seal algorithm")
)

// Sealer seals and unseals credential material.
type Sealer struct {
	algorithm Algorithm
	aead      cipher.AEAD
	random    io.Reader
}

// New creates a Sealer. An empty algorithm selects AES256GCM.
func New(algorithm Algorithm, key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", KeySize, len(key))
	}
	if algorithm == "" {
		algorithm = AES256GCM
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch algorithm {
	case AES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case XChaCha20Poly1305:
		aead, err = chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", algorithm, err)
	}

	return &Sealer{algorithm: algorithm, aead: aead, random: rand.Reader}, nil
}

// Algorithm returns the algorithm in use.
func (s *Sealer) Algorithm() Algorithm {
	return s.algorithm
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonceSize := s.aead.NonceSize()
	tagSize := s.aead.Overhead()

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// AEAD output is ciphertext || tag; the stored layout puts the tag first.
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - tagSize

	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Unseal authenticates and decrypts a sealed value.
func (s *Sealer) Unseal(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrIntegrity)
	}

	nonceSize := s.aead.NonceSize()
	tagSize := s.aead.Overhead()
	if len(raw) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: value too short", ErrIntegrity)
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ct := raw[nonceSize+tagSize:]

	combined := make([]byte, 0, len(ct)+tagSize)
	combined = append(combined, ct...)
	combined = append(combined, tag...)

	plaintext, err := s.aead.Open(nil, nonce, combined, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrIntegrity)
	}
	return plaintext, nil
}
