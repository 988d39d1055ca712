package queue

import "errors"

// ErrStopped is returned when putting into a stopped strict queue, and by
// Next once a stopped queue has been drained.
var ErrStopped = errors.New("queue stopped")
