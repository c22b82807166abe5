package repository

import "errors"

// Sentinel kinds for gateway errors.
var (
	ErrInvalidScore      = errors.New("invalid score")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrClosed            = errors.New("store closed")
)
