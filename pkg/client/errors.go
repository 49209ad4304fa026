package client

import (
	"errors"
	"fmt"
)

// ErrSessionExpired means the server refused both the access and refresh
// tokens. The stored credentials have been cleared; the caller must log in
// again.
var ErrSessionExpired = errors.New("session expired")

// ErrNotAuthenticated means no credentials are stored at all.
var ErrNotAuthenticated = errors.New("not authenticated")

// TransientError wraps a network-level failure. The stored credentials are
// left untouched because nothing is known about their validity.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
