// Copyright 2024-2026 Aiku AI

package twitdm

import "context"

// Client is the connection handle for one authenticated Twitter account.
// The connector package owns at most one live Client per session and drives
// its lifecycle; implementations own their transport and any retry behavior
// for an established stream.
//
// Implementations must close the Events channel when the client stops so
// consumers can terminate their dispatch loops.
type Client interface {
	// IdentityProbe verifies the stored credentials with a lightweight API
	// call and returns the authenticated account's Twitter user ID.
	IdentityProbe(ctx context.Context) (int64, error)
	// GetAccountSettings fetches the account's settings, including the
	// screen name used to look up the account's own user record.
	GetAccountSettings(ctx context.Context) (*AccountSettings, error)
	// LookupByHandle resolves a screen name to a full user record.
	LookupByHandle(ctx context.Context, handle string) (*User, error)

	SetCredentials(pair CredentialPair)
	Credentials() CredentialPair
	SetPollCursor(cursor string)
	PollCursor() string

	// Events returns the stream of remote events. The channel is closed
	// after Stop once the producer has shut down.
	Events() <-chan Event
	// Start begins producing events. It must only be called once.
	Start()
	// Stop shuts the event stream down. Safe to call multiple times.
	Stop()
}
