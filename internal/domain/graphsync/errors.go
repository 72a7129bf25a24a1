package graphsync

import "errors"

// ErrEnqueue is returned when an edge batch could not be queued.
var ErrEnqueue = errors.New("edge batch not queued")
