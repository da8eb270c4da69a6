// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"fmt"

	sqlite3 "modernc.org/sqlite/lib"
)

// Error is a failure reported by user callback code. Code is the SQLite
// result code the host receives, sqlite3.SQLITE_ERROR when zero.
// Extended result codes are allowed, so constraint failures can be
// reported precisely (see ConstraintError).
type Error struct {
	Code int32
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}

	return errstr(int32(e.code()))
}

func (e *Error) code() int32 {
	if e.Code == 0 {
		return sqlite3.SQLITE_ERROR
	}

	return e.Code
}

// ConstraintError reports a constraint violation from a virtual table
// update. The zero kind means the generic SQLITE_CONSTRAINT.
func ConstraintError(msg string) *Error {
	return &Error{Code: sqlite3.SQLITE_CONSTRAINT, Msg: msg}
}

// VersionError reports that the linked SQLite library is too old for a
// requested capability.
type VersionError struct {
	Needed int32 // minimum SQLITE_VERSION_NUMBER
	Got    int32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("sqlite library version %d does not support this operation (need %d)", e.Got, e.Needed)
}

// ArgumentError reports input the adapter rejected before reaching user
// or host code: an embedded NUL in a C-string position, an arity out of
// the host's range and the like.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string { return e.Msg }

// MismatchError reports a typed-value protocol violation: reading a
// pointer value with the wrong type tag, or an aggregate accumulator
// whose stored type differs from the one being requested. The value is
// never reinterpreted.
type MismatchError struct {
	Msg string
}

func (e *MismatchError) Error() string { return e.Msg }

// HostError is a non-OK result code returned by the host for a call the
// adapter itself issued.
type HostError struct {
	Code int32
	Msg  string
}

func (e *HostError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s (%d)", e.Msg, e.Code)
	}

	return fmt.Sprintf("%s (%d)", errstr(e.Code), e.Code)
}

// errCode maps any error to the result code handed back to the host.
// The mapping is total: every error produces a code and nil produces
// SQLITE_OK.
func errCode(err error) int32 {
	switch x := err.(type) {
	case nil:
		return sqlite3.SQLITE_OK
	case *Error:
		return x.code()
	case *VersionError:
		return sqlite3.SQLITE_ERROR
	case *ArgumentError:
		return sqlite3.SQLITE_MISUSE
	case *MismatchError:
		return sqlite3.SQLITE_MISMATCH
	case *HostError:
		return x.Code
	default:
		return sqlite3.SQLITE_ERROR
	}
}

// guard keeps panics out of the host's C frames. Every exported
// callback defers it; a recovered panic becomes SQLITE_INTERNAL.
func guard(rc *int32) {
	if r := recover(); r != nil {
		*rc = sqlite3.SQLITE_INTERNAL
	}
}
