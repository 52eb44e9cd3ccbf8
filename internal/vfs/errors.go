package vfs

import "errors"

var (
	// ErrNotFound indicates the path does not exist
	ErrNotFound = errors.New("file not found")

	// ErrNotSupported indicates the provider does not implement the
	// operation. The archive view returns it for every mutation.
	ErrNotSupported = errors.New("operation not supported")
)
