// Package signing produces and verifies short HMAC digests that authorize
// generated content URLs.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	keyLength    = 32
	digestLength = 8
	keyFileMode  = 0o600
)

// Signer signs reference paths under a single long-lived secret persisted to
// a key file. The zero value is unusable; construct it with New or
// NewDisabled.
type Signer struct {
	keyFile  string
	enforced bool

	mu  sync.Mutex
	key []byte
}

// New creates a signer backed by the key file at path. The key is loaded or
// generated lazily on first use.
func New(keyFile string) (*Signer, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("new signer: missing key file path")
	}

	return &Signer{keyFile: keyFile, enforced: true}, nil
}

// NewDisabled creates a signer that signs nothing and accepts every digest,
// for deployments that opt out of URL signing.
func NewDisabled() *Signer {
	return &Signer{enforced: false}
}

// Enforced reports whether digests are required and checked.
func (s *Signer) Enforced() bool {
	return s.enforced
}

// Sign returns the digest authorizing referencePath. A disabled signer
// returns an empty digest.
func (s *Signer) Sign(referencePath string) (string, error) {
	if !s.enforced {
		return "", nil
	}

	key, err := s.loadKey()
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", referencePath, err)
	}

	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(referencePath))

	return hex.EncodeToString(mac.Sum(nil))[:digestLength], nil
}

// Verify recomputes the digest for referencePath and compares it in constant
// time. A disabled signer accepts any digest, including a missing one.
func (s *Signer) Verify(referencePath, digest string) bool {
	if !s.enforced {
		return true
	}

	expected, err := s.Sign(referencePath)
	if err != nil {
		return false
	}

	return hmac.Equal([]byte(expected), []byte(digest))
}

// loadKey returns the process key, generating and persisting it at most
// once. A concurrent generation race converges on the first persisted value:
// the loser reads the winner's file back.
func (s *Signer) loadKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		return s.key, nil
	}

	key, err := os.ReadFile(s.keyFile)
	if err == nil {
		if len(key) == 0 {
			return nil, fmt.Errorf("load key %s: empty key file", s.keyFile)
		}
		s.key = key
		return s.key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load key %s: %w", s.keyFile, err)
	}

	generated := make([]byte, keyLength)
	if _, err := rand.Read(generated); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.keyFile), 0o755); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	file, err := os.OpenFile(s.keyFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, keyFileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Another process won the race; use its key.
			key, readErr := os.ReadFile(s.keyFile)
			if readErr != nil {
				return nil, fmt.Errorf("read raced key %s: %w", s.keyFile, readErr)
			}
			s.key = key
			return s.key, nil
		}
		return nil, fmt.Errorf("create key file %s: %w", s.keyFile, err)
	}

	if _, err := file.Write(generated); err != nil {
		file.Close()
		return nil, fmt.Errorf("write key file %s: %w", s.keyFile, err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close key file %s: %w", s.keyFile, err)
	}

	s.key = generated

	return s.key, nil
}
