package tokensource

import (
	"errors"

	"golang.org/x/oauth2"
)

// ErrNoToken reports that no daemon token has been validated yet.
var ErrNoToken = errors.New("no validated daemon token available")

// Manager is the slice of the connection manager the token sources need.
type Manager interface {
	// Token returns the last validated credential, or "" before the first
	// successful connection cycle.
	Token() string
}

// FromManager returns a TokenSource serving the manager's current
// validated token. While no token has been validated it returns ErrNoToken,
// so outbound requests fail fast instead of going out unauthenticated.
func FromManager(m Manager) oauth2.TokenSource {
	return &managerSource{manager: m}
}

type managerSource struct {
	manager Manager
}

// Compile-time check to ensure managerSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*managerSource)(nil)

func (s *managerSource) Token() (*oauth2.Token, error) {
	token := s.manager.Token()
	if token == "" {
		return nil, ErrNoToken
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// Static returns a TokenSource that always serves the given token, for
// tools that talk to the daemon outside a running bridge.
func Static(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}
