package helper

import (
	"context"
	"errors"

	"github.com/lib/pq"
)

// SQLSTATE codes raised by racing writers on the same unique key.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// SQLSTATE codes raised when a queried relation, column, function or object is missing.
var pqMissingObjectCodes = map[pq.ErrorCode]bool{
	"42P01": true, // undefined_table
	"42703": true, // undefined_column
	"42883": true, // undefined_function
	"42704": true, // undefined_object
}

// IsWriteConflict reports whether err is a postgres error caused by a
// concurrent writer (unique violation, serialization failure, deadlock).
func IsWriteConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case pqUniqueViolation, pqSerializationFailure, pqDeadlockDetected:
		return true
	}
	return false
}

// IsMissingObject reports whether err is a postgres error about a missing
// table, column, function or index.
func IsMissingObject(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqMissingObjectCodes[pqErr.Code]
}

// RetryOnConflict calls fn up to maxTries times while it fails with a write
// conflict. Any other error is returned immediately, as is ctx.Err() once the
// context is done. If maxTries <= 0, it defaults to 1.
func RetryOnConflict(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsWriteConflict(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
