// Copyright 2024-2026 Aiku AI

package connector

import "fmt"

// AuthError reports that the credential probe failed during Connect. When
// Connect returns an AuthError, the session was not mutated: no handle was
// installed, no twid was bound and nothing was persisted.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Cause)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}
