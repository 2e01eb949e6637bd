// Package storage defines the error surface shared by the tuple storage
// packages. Recoverable input-validation failures are returned as *Error;
// internal invariant violations panic.
package storage

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	SchemaMismatch ErrorKind = iota + 1
	Deserialization
	OutOfMemory
)

func (k ErrorKind) String() string {
	switch k {
	case SchemaMismatch:
		return "schema mismatch"
	case Deserialization:
		return "deserialization"
	case OutOfMemory:
		return "out of memory"
	}

	return fmt.Sprintf("unknown(%d)", int(k))
}

type Error struct {
	Kind    ErrorKind
	Message string
}

func (err *Error) Error() string {
	return err.Message
}

func NewError(k ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    k,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsKind reports whether err is a storage error of the given kind.
func IsKind(err error, k ErrorKind) bool {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind == k
	}
	return false
}
