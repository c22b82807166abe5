package eventbus

import "errors"

// Sentinel kinds for event bus errors.
var (
	ErrClosed        = errors.New("event bus closed")
	ErrPublishFailed = errors.New("event publish failed")
	ErrNilHandler    = errors.New("nil event handler")
)
