package dispatch

import "errors"

// ErrClosed is returned by Close when called twice and reported for sends after Close.
var ErrClosed = errors.New("dispatcher closed")
