package journal

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBucketNotFound  = errors.New("bucket not found")
	ErrNilDB           = errors.New("database connection is nil")
	ErrEmptySessionID  = errors.New("session id is empty")
)
