package tokenstore

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the token in the OS keyring (Keychain on macOS,
// Secret Service on Linux, Credential Manager on Windows).
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore scoped to the given service and
// user names.
func NewKeyringStore(service, user string) *KeyringStore {
	return &KeyringStore{
		service: service,
		user:    user,
	}
}

// Read returns the stored token. An absent keyring entry means no token
// has been persisted yet and returns ("", nil).
func (k *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return token, nil
}

// Write persists the token in the OS keyring.
func (k *KeyringStore) Write(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return keyring.Set(k.service, k.user, token)
}
