package session

import "fmt"

// AuthExpiredError reports that the access token is unusable and no further
// automatic recovery was possible within the failing call. By the time a
// caller sees it the session has already been torn down.
type AuthExpiredError struct {
	Reason string
	Err    error
}

func (e *AuthExpiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session expired: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session expired: %s", e.Reason)
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

// TransportError reports that the network call itself did not complete. It
// never triggers a refresh or a session-state change; callers apply their
// own retry policy.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
