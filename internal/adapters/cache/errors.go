package cache

import "errors"

// Sentinel kinds for ranking cache errors.
var (
	ErrFetchFailed = errors.New("ranking fetch failed")
)
