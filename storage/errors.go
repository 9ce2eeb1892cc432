package storage

import "errors"

var (
	ErrStorageInit = errors.New("storage root could not be initialized")
	ErrPathEscape  = errors.New("name escapes the storage root")
	ErrNotFound    = errors.New("file not found")
	ErrStorageIO   = errors.New("storage i/o failure")
	ErrClientInput = errors.New("invalid client input")
)
