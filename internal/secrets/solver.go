package secrets

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// Service groups the engine's secrets in the OS keychain.
	KeyringService = "allotment-engine"

	solverAccount = "captcha-solver"
)

// GetSolverKey returns the captcha-solver API key, if one is stored.
// Registrar capabilities work without it; they just hit captcha walls
// more often.
func GetSolverKey() (string, error) {
	key, err := keyring.Get(KeyringService, solverAccount)
	if err == nil && strings.TrimSpace(key) != "" {
		return key, nil
	}
	return "", errors.New("captcha solver key not set (set it via the secrets API)")
}

func SetSolverKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("solver key is empty")
	}
	return keyring.Set(KeyringService, solverAccount, key)
}

func DeleteSolverKey() error {
	return keyring.Delete(KeyringService, solverAccount)
}
