package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const apiKeyBytes = 32

// ErrUnknownAPIKey is returned when a key matches no configured producer.
var ErrUnknownAPIKey = errors.New("unknown api key")

// GenerateAPIKey generates a cryptographically secure API key.
// The key is 32 random bytes, hex-encoded to 64 characters.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate API key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ProducerKey is a configured producer and the bcrypt hash of its API key.
type ProducerKey struct {
	Name string `mapstructure:"name"`
	Hash string `mapstructure:"hash"`
}

// Validate checks that the entry has a name and a bcrypt hash.
func (k ProducerKey) Validate() error {
	if k.Name == "" {
		return errors.New("producer key name is required")
	}
	if !strings.HasPrefix(k.Hash, "$2") {
		return fmt.Errorf("producer key %q: hash must be a bcrypt hash", k.Name)
	}
	return nil
}

// APIKeyStore authenticates producers by static API key. Verified keys are
// remembered by their SHA-256 digest so bcrypt runs once per key.
type APIKeyStore struct {
	keys []ProducerKey

	mu       sync.RWMutex
	verified map[string]string
}

// NewAPIKeyStore creates a store over the given producer keys.
func NewAPIKeyStore(keys []ProducerKey) *APIKeyStore {
	return &APIKeyStore{
		keys:     keys,
		verified: make(map[string]string),
	}
}

// Lookup returns the producer name the key belongs to.
func (s *APIKeyStore) Lookup(key string) (string, error) {
	if key == "" {
		return "", ErrUnknownAPIKey
	}
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])

	s.mu.RLock()
	name, ok := s.verified[digest]
	s.mu.RUnlock()
	if ok {
		return name, nil
	}

	for _, k := range s.keys {
		if VerifyAPIKey(k.Hash, key) == nil {
			s.mu.Lock()
			s.verified[digest] = k.Name
			s.mu.Unlock()
			return k.Name, nil
		}
	}
	return "", ErrUnknownAPIKey
}

// Len returns the number of configured producer keys.
func (s *APIKeyStore) Len() int {
	return len(s.keys)
}
