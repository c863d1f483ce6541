package protocol

import "errors"

// ErrInvalidConfiguration is wrapped by every error returned from a
// constructor given unusable settings: a malformed DSN, a ring buffer
// capacity below one, a sample rate outside [0,1].
var ErrInvalidConfiguration = errors.New("invalid configuration")
