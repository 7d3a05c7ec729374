package tokenstore

import (
	"context"
	"fmt"
	"os"
)

// EnvStore reads the token from an environment variable. It is read-only:
// tokens minted by the daemon at runtime cannot be written back, so the
// environment value only ever seeds the first connection attempt.
type EnvStore struct {
	envVar string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
// The variable must be set (it may be empty).
func NewEnvStore(envVar string) (*EnvStore, error) {
	if envVar == "" {
		return nil, fmt.Errorf("environment variable name cannot be empty")
	}

	if _, ok := os.LookupEnv(envVar); !ok {
		return nil, fmt.Errorf("environment variable %s is not set", envVar)
	}

	return &EnvStore{
		envVar: envVar,
	}, nil
}

// Read returns the variable's current value. An empty value means no
// token and returns ("", nil).
func (e *EnvStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return os.Getenv(e.envVar), nil
}

// Write always fails: environment storage is read-only.
func (e *EnvStore) Write(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("environment token storage is read-only, cannot persist token (unset %s or switch to file/keyring storage)", e.envVar)
}
