package tokenstore

import "context"

// Store reads and writes the last-known-good daemon token.
//
// A missing token is not an error: Read returns ("", nil) when nothing has
// been persisted yet, and the connection manager simply seeds one fewer
// candidate. Errors are reserved for broken backends (unreadable file,
// keyring service unavailable, insecure permissions).
type Store interface {
	// Read returns the stored token, or ("", nil) if none is stored.
	Read(ctx context.Context) (string, error)

	// Write persists the token, replacing any previous value. Returns an
	// error if the backend is read-only (environment variables) or the
	// write fails.
	Write(ctx context.Context, token string) error
}
