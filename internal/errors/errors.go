package errors

import "errors"

// Remote store errors. Every failure surfaced by a remote backend wraps
// ErrRemoteOperation; a missing object additionally matches
// ErrRemoteNotFound.
var (
	ErrRemoteOperation = errors.New("remote operation failed")
	ErrRemoteNotFound  = errors.New("remote object not found")
)

// Configuration errors.
var (
	ErrInvalidRoot = errors.New("synchronization root is not a directory")
)
