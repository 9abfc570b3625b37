package core

import (
	"errors"
	"fmt"
)

var DbAlreadyStoppedErr = errors.New("db is stopped, can not perform the operation")
var ReadOnlyTxnErr = errors.New("txn is read-only, can not perform the operation")
var TxnDiscardedErr = errors.New("txn is already committed or rolled back")
var TxnConflictErr = errors.New("txn has conflict, can not commit")
var TxnTooLargeErr = errors.New("txn exceeds the configured size limits")
var KeyExistsErr = errors.New("key already exists")
var KeyNotFoundErr = errors.New("key does not exist")
var EmptyKeyErr = errors.New("key can not be empty")
var WriterDisconnectedErr = errors.New("storage writer is disconnected, engine is unusable")
var StorageIOErr = errors.New("storage i/o failure")
var CorruptedSegmentErr = errors.New("segment is corrupted")

// IoError wraps a backend failure. It matches StorageIOErr under errors.Is.
type IoError struct {
	Backend string
	Op      string
	Err     error
}

func NewIoError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Backend: backend, Op: op, Err: err}
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

func (e *IoError) Is(target error) bool {
	return target == StorageIOErr
}
