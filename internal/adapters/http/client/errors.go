package client

import "errors"

// Sentinel kinds for client errors. APIError matches the status-based ones
// through errors.Is.
var (
	ErrInvalidBaseURL = errors.New("invalid base url")
	ErrDecode         = errors.New("decode response")
	ErrResync         = errors.New("stream requires resync")
	ErrNotFound       = errors.New("not found")
	ErrBadRequest     = errors.New("bad request")
	ErrRateLimited    = errors.New("rate limited")
)
