package store

import "errors"

var (
	ErrUnknownNode     = errors.New("unknown node")
	ErrSelfLoop        = errors.New("self-loop not allowed")
	ErrEmptyNodeID     = errors.New("node id cannot be empty")
	ErrInvalidNodeID   = errors.New("node id must be valid UTF-8 without line breaks")
	ErrInvalidText     = errors.New("text must be valid UTF-8")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)
