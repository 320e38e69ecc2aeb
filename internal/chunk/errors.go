package chunk

import "errors"

var (
	// ErrBadChunkSize is returned when a peer announces a non-positive
	// chunk size via protocol control message type 1.
	ErrBadChunkSize = errors.New("chunk: set chunk size requires a positive value")
	// ErrControlSize is returned when a protocol control message body
	// does not match the fixed size its type requires.
	ErrControlSize = errors.New("chunk: control message has wrong body size")
)
