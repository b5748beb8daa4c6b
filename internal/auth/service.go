package auth

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service validates API keys against operator-provisioned configuration.
// Keys live in humboldt.yaml as bcrypt hashes keyed by a short id, and
// clients present "<id>.<secret>" in X-API-Key: the id selects the hash,
// so a request costs one bcrypt comparison no matter how many keys exist.
type Service struct {
	logger *zap.Logger

	mu   sync.RWMutex
	keys map[string]string // key id -> bcrypt hash of the full presented key
}

// NewService creates an authentication service from the configured key set
func NewService(keys map[string]string, logger *zap.Logger) *Service {
	s := &Service{
		logger: logger,
		keys:   make(map[string]string, len(keys)),
	}
	for id, hash := range keys {
		s.keys[id] = hash
	}
	return s
}

// ValidateAPIKey validates an API key and returns the caller identity.
// Configured keys are operator credentials, so they carry the full scope
// set including hard abort.
func (s *Service) ValidateAPIKey(apiKey string) (*UserContext, error) {
	id, _, found := strings.Cut(apiKey, ".")
	if !found || id == "" {
		return nil, fmt.Errorf("invalid API key format")
	}

	s.mu.RLock()
	hash, ok := s.keys[id]
	s.mu.RUnlock()
	if !ok {
		// Same error as a bad secret so responses never reveal which ids exist
		return nil, fmt.Errorf("invalid API key")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)); err != nil {
		s.logger.Debug("API key rejected", zap.String("key_id", id))
		return nil, fmt.Errorf("invalid API key")
	}

	return &UserContext{
		Subject:   id,
		Role:      RoleAdmin,
		Scopes:    getScopesForRole(RoleAdmin),
		IsAPIKey:  true,
		TokenType: "api_key",
		KeyID:     id,
	}, nil
}

// UpdateKeys swaps the key set. Called from the configuration reload
// callback so key rotation in humboldt.yaml takes effect without a restart.
func (s *Service) UpdateKeys(keys map[string]string) {
	next := make(map[string]string, len(keys))
	for id, hash := range keys {
		next[id] = hash
	}

	s.mu.Lock()
	s.keys = next
	s.mu.Unlock()

	s.logger.Info("API key set updated", zap.Int("keys", len(next)))
}
