package buffer

import "errors"

// Error taxonomy for the buffer layer. None of these are fatal: callers
// surface them to student code as a failed operation and a logged
// warning, never a crash.
var (
	ErrInvalid        = errors.New("buffer: operation on invalid buffer")
	ErrUnknownParam    = errors.New("buffer: unknown parameter")
	ErrNotReadable    = errors.New("buffer: parameter is not readable")
	ErrNotWriteable   = errors.New("buffer: parameter is not writeable")
)
