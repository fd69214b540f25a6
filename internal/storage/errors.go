package storage

import (
	"errors"
	"fmt"
)

var (
	ErrClosed          = errors.New("storage is closed")
	ErrProjectNotFound = errors.New("project not found")
	ErrTargetNotFound  = errors.New("target not found")
)

// Error is returned for every request the backend failed to serve.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
