package repository

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("bookmark not found")

// StorageError is a filesystem failure. Unlike fetch or extraction problems
// it is never recovered from.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
