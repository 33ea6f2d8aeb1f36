package email

import (
	"errors"
	"fmt"
	"net"
)

// ErrNotFound is returned when a message UID no longer exists in the
// selected mailbox.
var ErrNotFound = errors.New("message not found")

// AuthError means the server rejected the credentials. It is never
// retried automatically; the whole account's sync pauses until the user
// fixes the credentials.
type AuthError struct {
	Account string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Account, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectionError covers dial failures, timeouts and dropped
// connections. Retried on the next scheduled pass.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError covers server-side rejections with an intact
// connection: missing mailboxes, refused appends, malformed responses.
// Reason is surfaced so the UI can explain why sync is stuck.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsConnectionError reports whether err is retryable at the connection
// level. Net-level timeouts count even when not wrapped explicitly.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsProtocolError reports whether err is a server-side protocol or data
// rejection.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
