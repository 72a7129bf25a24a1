package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("game not found")
	ErrInvalidQuery = errors.New("invalid game query")
	ErrNoClient     = errors.New("query requires a client id")
)
