package audit

import "errors"

var (
	// ErrInvalidAction is returned for an action other than commit or rollback.
	ErrInvalidAction = errors.New("audit: invalid action")
)
