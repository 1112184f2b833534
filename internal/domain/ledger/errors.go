package ledger

import "errors"

// ErrDayClosed is returned for a write against a date that has been closed.
var ErrDayClosed = errors.New("day already closed")
