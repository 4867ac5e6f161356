package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// IStore is the generic interface for interacting with a key–value store.
// Operations return a *Error on failure. A missing key is reported through
// the loaded flag, never as an error.
type IStore interface {
	// Get returns the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value Value, loaded bool, err error)
	// Set inserts or updates a key–value pair and returns the value it replaced (if any).
	Set(key string, value Value) (prev Value, loaded bool, err error)
	// Delete removes a key–value pair and returns the removed value (if any).
	Delete(key string) (prev Value, loaded bool, err error)
	// Contains returns whether a key exists in the store.
	Contains(key string) (loaded bool, err error)
	// GetAll returns all pairs of the store. The order depends on the engine (see GetDBInfo().Ordering).
	GetAll() (pairs []Kvpair, err error)
	// Iterate returns a lazy iterator over all pairs whose key starts with prefix.
	// The iterator sees every write that completed before Iterate was called.
	Iterate(prefix string) (it Iterator, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close releases the underlying database.
	Close() (err error)
}

// Iterator walks over the pairs returned by IStore.Iterate
type Iterator interface {
	// Next advances the iterator and reports whether a pair is available.
	Next() bool
	// Pair returns the current pair. Only valid after Next returned true.
	Pair() Kvpair
	// Err returns the first error the iterator ran into.
	Err() error
	// Close releases the iterator. It is safe to call Close multiple times.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new KVStoreError with a formatted message
func Errorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the RetCode of err. Errors that are not a *Error map to RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCInvalidArgument                     // 4: Malformed input (e.g. empty key, missing value).
	RetCStorageFailure                      // 5: The storage engine failed (I/O, corruption, closed).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCStorageFailure:
		return "StorageFailure"
	default:
		return "Unknown"
	}
}
