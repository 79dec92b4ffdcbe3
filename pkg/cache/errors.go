package cache

import "errors"

var (
	// ErrCacheMiss is returned when a key is in neither tier
	ErrCacheMiss = errors.New("cache miss")

	// ErrCorruptEntry is returned when a disk entry cannot be decoded
	ErrCorruptEntry = errors.New("corrupt cache entry")

	// ErrInvalidKey is returned for empty keys or keys that are not safe file names
	ErrInvalidKey = errors.New("invalid cache key")
)
