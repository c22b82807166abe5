package livesync

import "errors"

// ErrRefreshInFlight is returned by Refresh while another fetch is running.
var ErrRefreshInFlight = errors.New("refresh already in flight")
