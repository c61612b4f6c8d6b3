package store

import "errors"

var (
	ErrNotFound       = errors.New("store: not found")
	ErrAlreadyRead    = errors.New("store: message already read")
	ErrCapabilityName = errors.New("store: capability name is required")
)
