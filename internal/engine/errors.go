package engine

import (
	"errors"
	"fmt"
)

// ErrUnreachable indicates the engine could not be reached at the transport
// level (connection refused, DNS failure, client-side timeout). It is fatal
// for the operation that hit it — callers should not retry blindly.
var ErrUnreachable = errors.New("engine unreachable")

// unreachable wraps a transport-level error with ErrUnreachable so callers
// can detect total connectivity failure with errors.Is.
func unreachable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
