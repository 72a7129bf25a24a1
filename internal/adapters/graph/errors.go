package graph

import "errors"

var (
	// ErrUnknownQuery is returned for a query name Query does not know.
	ErrUnknownQuery = errors.New("unknown graph query")
	// ErrInvalidElement is returned for a node or edge without an id.
	ErrInvalidElement = errors.New("invalid graph element")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("graph store closed")
)
