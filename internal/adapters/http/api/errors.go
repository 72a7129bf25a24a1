package api

import "errors"

// ErrBadRequest marks request decoding and validation failures.
var ErrBadRequest = errors.New("bad request")
