package model

import "errors"

// Sentinel kinds for model validation.
var (
	ErrInvalidGame   = errors.New("invalid game")
	ErrInvalidChange = errors.New("invalid change")
)
