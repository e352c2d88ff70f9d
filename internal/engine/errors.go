package engine

import "errors"

// ErrPoolClosed is returned by Submit after Close has been called.
var ErrPoolClosed = errors.New("inference pool closed")

// ErrInvalidWorkers is returned by NewPool when the worker count is below one.
var ErrInvalidWorkers = errors.New("worker count must be at least 1")
