package stream

import "errors"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("change stream closed")
