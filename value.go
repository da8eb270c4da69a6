// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// ValueType is a fundamental SQLite datatype code.
type ValueType int32

const (
	TypeInteger = ValueType(sqlite3.SQLITE_INTEGER)
	TypeFloat   = ValueType(sqlite3.SQLITE_FLOAT)
	TypeText    = ValueType(sqlite3.SQLITE_TEXT)
	TypeBlob    = ValueType(sqlite3.SQLITE_BLOB)
	TypeNull    = ValueType(sqlite3.SQLITE_NULL)
)

func (t ValueType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	case TypeNull:
		return "NULL"
	default:
		return fmt.Sprintf("ValueType(%d)", int32(t))
	}
}

const (
	sqliteStatic    = uintptr(0)
	sqliteTransient = ^uintptr(0) // SQLITE_TRANSIENT
)

// Value is a SQLite value. It is either borrowed, wrapping a protected
// sqlite3_value owned by the host and valid only for the duration of
// the callback that produced it, or owned, constructed by one of
// IntegerValue, FloatValue, TextValue, BlobValue.
type Value struct {
	tls *libc.TLS
	ptr uintptr // borrowed sqlite3_value, 0 when owned

	typ ValueType
	n   int64
	f   float64
	s   string
	b   []byte
}

func borrowedValue(tls *libc.TLS, ptr uintptr) Value {
	return Value{tls: tls, ptr: ptr}
}

// IntegerValue returns a new Value of type INTEGER.
func IntegerValue(n int64) Value { return Value{typ: TypeInteger, n: n} }

// FloatValue returns a new Value of type FLOAT.
func FloatValue(f float64) Value { return Value{typ: TypeFloat, f: f} }

// TextValue returns a new Value of type TEXT.
func TextValue(s string) Value { return Value{typ: TypeText, s: s} }

// BlobValue returns a new Value of type BLOB. The slice is not copied.
func BlobValue(b []byte) Value { return Value{typ: TypeBlob, b: b} }

// Type reports the fundamental datatype of the value.
//
// int sqlite3_value_type(sqlite3_value*);
func (v Value) Type() ValueType {
	if v.ptr != 0 {
		return ValueType(sqlite3.Xsqlite3_value_type(v.tls, v.ptr))
	}
	if v.typ == 0 {
		return TypeNull
	}

	return v.typ
}

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.Type() == TypeNull }

// Int64 returns the value as an integer, applying the host's coercion
// rules for non-integer values.
//
// sqlite3_int64 sqlite3_value_int64(sqlite3_value*);
func (v Value) Int64() int64 {
	if v.ptr != 0 {
		return sqlite3.Xsqlite3_value_int64(v.tls, v.ptr)
	}

	switch v.typ {
	case TypeInteger:
		return v.n
	case TypeFloat:
		return int64(v.f)
	case TypeText:
		return castTextToInteger(v.s)
	case TypeBlob:
		return castTextToInteger(string(v.b))
	default:
		return 0
	}
}

// Float returns the value as a float, applying the host's coercion
// rules for non-float values.
//
// double sqlite3_value_double(sqlite3_value*);
func (v Value) Float() float64 {
	if v.ptr != 0 {
		return sqlite3.Xsqlite3_value_double(v.tls, v.ptr)
	}

	switch v.typ {
	case TypeInteger:
		return float64(v.n)
	case TypeFloat:
		return v.f
	case TypeText:
		return castTextToReal(v.s)
	case TypeBlob:
		return castTextToReal(string(v.b))
	default:
		return 0
	}
}

// Text returns the value as a string. Embedded NUL bytes in the stored
// text are preserved.
//
// const unsigned char *sqlite3_value_text(sqlite3_value*);
func (v Value) Text() string {
	if v.ptr != 0 {
		p := sqlite3.Xsqlite3_value_text(v.tls, v.ptr)
		if p == 0 {
			return ""
		}

		n := sqlite3.Xsqlite3_value_bytes(v.tls, v.ptr)
		return string(libc.GoBytes(p, int(n)))
	}

	switch v.typ {
	case TypeInteger:
		return strconv.FormatInt(v.n, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeText:
		return v.s
	case TypeBlob:
		return string(v.b)
	default:
		return ""
	}
}

// Blob returns a copy of the value as a byte slice.
//
// const void *sqlite3_value_blob(sqlite3_value*);
func (v Value) Blob() []byte {
	if v.ptr != 0 {
		p := sqlite3.Xsqlite3_value_blob(v.tls, v.ptr)
		if p == 0 {
			return nil
		}

		n := sqlite3.Xsqlite3_value_bytes(v.tls, v.ptr)
		b := make([]byte, int(n))
		copy(b, libc.GoBytes(p, int(n)))
		return b
	}

	switch v.typ {
	case TypeText:
		return []byte(v.s)
	case TypeBlob:
		b := make([]byte, len(v.b))
		copy(b, v.b)
		return b
	case TypeInteger, TypeFloat:
		return []byte(v.Text())
	default:
		return nil
	}
}

// NoChange reports whether this value, received by an update method of
// a virtual table, stands for a column the UPDATE statement does not
// modify.
//
// int sqlite3_value_nochange(sqlite3_value*);
func (v Value) NoChange() bool {
	return v.ptr != 0 && sqlite3.Xsqlite3_value_nochange(v.tls, v.ptr) != 0
}

// Subtype reports the subtype set on the value by the function that
// produced it.
//
// unsigned int sqlite3_value_subtype(sqlite3_value*);
func (v Value) Subtype() uint32 {
	if v.ptr == 0 {
		return 0
	}

	return uint32(sqlite3.Xsqlite3_value_subtype(v.tls, v.ptr))
}

// GoValue converts the value to its driver.Value form: int64, float64,
// string, []byte or nil.
func (v Value) GoValue() driver.Value {
	switch v.Type() {
	case TypeInteger:
		return v.Int64()
	case TypeFloat:
		return v.Float()
	case TypeText:
		return v.Text()
	case TypeBlob:
		return v.Blob()
	default:
		return nil
	}
}

// copyValue materializes a borrowed value into an owned one.
func copyValue(v Value) Value {
	switch v.Type() {
	case TypeInteger:
		return IntegerValue(v.Int64())
	case TypeFloat:
		return FloatValue(v.Float())
	case TypeText:
		return TextValue(v.Text())
	case TypeBlob:
		return BlobValue(v.Blob())
	default:
		return Value{}
	}
}

// Pointer is a Go value passed through the SQLite pointer passing
// interface (https://sqlite.org/bindptr.html). Tag identifies the
// value's type; retrieval with a different tag fails.
type Pointer struct {
	Tag   string
	Value interface{}
}

var ptrs = struct {
	sync.Mutex
	m    map[uintptr]Pointer
	next uintptr
}{m: map[uintptr]Pointer{}, next: 1}

func boxPointer(p Pointer) uintptr {
	ptrs.Lock()

	defer ptrs.Unlock()

	h := ptrs.next
	ptrs.next++
	ptrs.m[h] = p
	return h
}

func unboxPointer(h uintptr) (Pointer, bool) {
	ptrs.Lock()

	defer ptrs.Unlock()

	p, ok := ptrs.m[h]
	return p, ok
}

func pointerDestroyTramp(tls *libc.TLS, h uintptr) {
	ptrs.Lock()
	delete(ptrs.m, h)
	ptrs.Unlock()
}

// tagPtrs interns type tag strings as C strings. Tags are never freed;
// the host compares them by address and by content across the life of
// the process.
var tagPtrs = struct {
	sync.Mutex
	m map[string]uintptr
}{m: map[string]uintptr{}}

func internTag(tag string) (uintptr, error) {
	tagPtrs.Lock()

	defer tagPtrs.Unlock()

	if p, ok := tagPtrs.m[tag]; ok {
		return p, nil
	}

	if strings.IndexByte(tag, 0) >= 0 {
		return 0, &ArgumentError{Msg: fmt.Sprintf("pointer tag %q contains embedded NUL", tag)}
	}

	p, err := libc.CString(tag)
	if err != nil {
		return 0, err
	}

	tagPtrs.m[tag] = p
	return p, nil
}

// Pointer extracts a Go value previously passed through the pointer
// interface under the same tag. A value that does not carry a pointer
// with this tag yields a MismatchError.
//
// void *sqlite3_value_pointer(sqlite3_value*, const char*);
func (v Value) Pointer(tag string) (interface{}, error) {
	if v.ptr == 0 {
		return nil, &MismatchError{Msg: "value is not a host pointer value"}
	}

	zTag, err := internTag(tag)
	if err != nil {
		return nil, err
	}

	h := sqlite3.Xsqlite3_value_pointer(v.tls, v.ptr, zTag)
	if h == 0 {
		return nil, &MismatchError{Msg: fmt.Sprintf("value does not carry a pointer tagged %q", tag)}
	}

	p, ok := unboxPointer(h)
	if !ok {
		return nil, &MismatchError{Msg: fmt.Sprintf("pointer tagged %q already released", tag)}
	}

	return p.Value, nil
}

// List iterates the right-hand side of a vectorized IN constraint whose
// value list was requested with IndexInfo.SetValueListWanted. Elements
// are materialized as owned values. Requires SQLite 3.38.0.
//
// int sqlite3_vtab_in_first(sqlite3_value*, sqlite3_value**);
// int sqlite3_vtab_in_next(sqlite3_value*, sqlite3_value**);
func (v Value) List() ([]Value, error) {
	if v.ptr == 0 {
		return nil, &ArgumentError{Msg: "value is not an IN-list handle"}
	}
	if got := VersionNumber(); got < 3038000 {
		return nil, &VersionError{Needed: 3038000, Got: got}
	}

	pp, err := malloc(v.tls, int32(ptrSize))
	if err != nil {
		return nil, err
	}

	defer sqlite3.Xsqlite3_free(v.tls, pp)

	var out []Value
	rc := sqlite3.Xsqlite3_vtab_in_first(v.tls, v.ptr, pp)
	for rc == sqlite3.SQLITE_OK && readPtr(pp) != 0 {
		out = append(out, copyValue(borrowedValue(v.tls, readPtr(pp))))
		rc = sqlite3.Xsqlite3_vtab_in_next(v.tls, v.ptr, pp)
	}
	if rc != sqlite3.SQLITE_OK && rc != sqlite3.SQLITE_DONE {
		return nil, &HostError{Code: rc}
	}

	return out, nil
}

// Unchanged, returned from a virtual table Column method, tells the
// host the column keeps its prior value during an UPDATE that does not
// modify it. It is only meaningful when ColumnContext.NoChange reports
// true.
var Unchanged unchanged

type unchanged struct{}

// ZeroBlob is a driver.Value result standing for a zero-filled blob of
// the given length.
type ZeroBlob int32

// resultValue writes v into a sqlite3_context as the call's result.
func resultValue(tls *libc.TLS, ctx uintptr, v driver.Value) error {
	switch x := v.(type) {
	case nil:
		sqlite3.Xsqlite3_result_null(tls, ctx)
	case int64:
		sqlite3.Xsqlite3_result_int64(tls, ctx, x)
	case int:
		sqlite3.Xsqlite3_result_int64(tls, ctx, int64(x))
	case float64:
		sqlite3.Xsqlite3_result_double(tls, ctx, x)
	case bool:
		n := int64(0)
		if x {
			n = 1
		}
		sqlite3.Xsqlite3_result_int64(tls, ctx, n)
	case string:
		return resultText(tls, ctx, x)
	case []byte:
		return resultBlob(tls, ctx, x)
	case time.Time:
		return resultText(tls, ctx, x.Format(time.RFC3339Nano))
	case ZeroBlob:
		sqlite3.Xsqlite3_result_zeroblob(tls, ctx, int32(x))
	case Value:
		return resultOwned(tls, ctx, x)
	case Pointer:
		zTag, err := internTag(x.Tag)
		if err != nil {
			return err
		}

		h := boxPointer(x)
		sqlite3.Xsqlite3_result_pointer(tls, ctx, h, zTag, cFuncPointer(pointerDestroyTramp))
	case unchanged:
		// Leaving the result unset is the nochange protocol.
	default:
		return &ArgumentError{Msg: fmt.Sprintf("unsupported result type %T", v)}
	}
	return nil
}

func resultOwned(tls *libc.TLS, ctx uintptr, v Value) error {
	if v.ptr != 0 {
		sqlite3.Xsqlite3_result_value(tls, ctx, v.ptr)
		return nil
	}

	switch v.typ {
	case TypeInteger:
		sqlite3.Xsqlite3_result_int64(tls, ctx, v.n)
	case TypeFloat:
		sqlite3.Xsqlite3_result_double(tls, ctx, v.f)
	case TypeText:
		return resultText(tls, ctx, v.s)
	case TypeBlob:
		return resultBlob(tls, ctx, v.b)
	default:
		sqlite3.Xsqlite3_result_null(tls, ctx)
	}
	return nil
}

// void sqlite3_result_text(sqlite3_context*, const char*, int, void(*)(void*));
func resultText(tls *libc.TLS, ctx uintptr, s string) error {
	p, err := malloc(tls, int32(len(s)+1))
	if err != nil {
		sqlite3.Xsqlite3_result_error_nomem(tls, ctx)
		return err
	}

	if len(s) != 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(s)), s)
	}
	sqlite3.Xsqlite3_result_text(tls, ctx, p, int32(len(s)), sqliteTransient)
	sqlite3.Xsqlite3_free(tls, p)
	return nil
}

// void sqlite3_result_blob(sqlite3_context*, const void*, int, void(*)(void*));
func resultBlob(tls *libc.TLS, ctx uintptr, b []byte) error {
	if len(b) == 0 {
		sqlite3.Xsqlite3_result_zeroblob(tls, ctx, 0)
		return nil
	}

	p, err := malloc(tls, int32(len(b)))
	if err != nil {
		sqlite3.Xsqlite3_result_error_nomem(tls, ctx)
		return err
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(b)), b)
	sqlite3.Xsqlite3_result_blob(tls, ctx, p, int32(len(b)), sqliteTransient)
	sqlite3.Xsqlite3_free(tls, p)
	return nil
}

// resultError reports err as the outcome of the current call.
//
// void sqlite3_result_error(sqlite3_context*, const char*, int);
func resultError(tls *libc.TLS, ctx uintptr, err error) {
	msg := err.Error()
	if p, e := cString(tls, msg); e == nil {
		sqlite3.Xsqlite3_result_error(tls, ctx, p, int32(len(msg)))
		libc.Xfree(tls, p)
	}
	sqlite3.Xsqlite3_result_error_code(tls, ctx, errCode(err))
}

// castTextToInteger converts text to an integer the way CAST(x AS
// INTEGER) does: the longest numeric prefix counts, everything else is
// zero, and a magnitude beyond the 64-bit range clamps to the nearest
// representable value.
func castTextToInteger(s string) int64 {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	j := i
	if j < len(s) && (s[j] == '+' || s[j] == '-') {
		j++
	}
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	n, err := strconv.ParseInt(s[i:j], 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			if strings.HasPrefix(s[i:j], "-") {
				return math.MinInt64
			}

			return math.MaxInt64
		}

		return 0
	}

	return n
}

// castTextToReal converts text to a float the way CAST(x AS REAL)
// does.
func castTextToReal(s string) float64 {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	s = s[i:]
	for len(s) > 0 {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return f
		}

		s = s[:len(s)-1]
	}
	return 0
}
