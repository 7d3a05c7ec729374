// Package tokensource adapts walletbridge credentials to the oauth2
// TokenSource interface, so outbound HTTP to the daemon reuses
// oauth2.Transport for header injection.
package tokensource
