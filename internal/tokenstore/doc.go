// Package tokenstore persists the daemon API token across restarts.
//
// The daemon rotates its token when a client authenticates with the
// bootstrap token, so the bridge has to remember the minted value or it
// would need re-seeding after every restart. Three backends are provided:
// a 0600 file (default), the OS keyring, and a read-only environment
// variable. All backends treat a missing token as ("", nil) rather than
// an error, since an empty store is the normal first-run state.
package tokenstore
