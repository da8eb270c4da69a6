// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/mathutil"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	trace = false

	ptrSize = mathutil.UintPtrBits / 8
)

func tracer(rx interface{}, format string, args ...interface{}) {
	var b bytes.Buffer
	_, file, line, _ := runtime.Caller(1)
	fmt.Fprintf(&b, "%v:%v: (%[3]T)(%[3]p).", file, line, rx)
	fmt.Fprintf(&b, format, args...)
	fmt.Fprintf(os.Stderr, "%s\n", b.Bytes())
}

func readPtr(p uintptr) uintptr   { return *(*uintptr)(unsafe.Pointer(p)) }
func writePtr(p, v uintptr)       { *(*uintptr)(unsafe.Pointer(p)) = v }
func writeI64(p uintptr, v int64) { *(*int64)(unsafe.Pointer(p)) = v }

// cFuncPointer returns the C ABI address of a libc-style Go callback,
// suitable for storing in a function pointer slot of a C struct. The
// layout (a single code pointer) is what modernc.org/libc relies on
// throughout its own generated code.
func cFuncPointer[T any](f T) uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct{ f T }{f}))
}

// cString allocates a NUL-terminated copy of s with libc malloc. The
// caller frees it with libc.Xfree. Strings destined for C string slots
// must not contain NUL; truncation is never an acceptable outcome.
func cString(tls *libc.TLS, s string) (uintptr, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return 0, &ArgumentError{Msg: fmt.Sprintf("string %q contains embedded NUL", s)}
	}

	p, err := libc.CString(s)
	if err != nil {
		return 0, err
	}

	return p, nil
}

// sqliteCString is like cString but allocates with sqlite3_malloc, for
// slots the host frees itself (zErrMsg, idxStr with needToFreeIdxStr).
//
// void *sqlite3_malloc(int);
func sqliteCString(tls *libc.TLS, s string) (uintptr, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return 0, &ArgumentError{Msg: fmt.Sprintf("string %q contains embedded NUL", s)}
	}

	p := sqlite3.Xsqlite3_malloc(tls, int32(len(s)+1))
	if p == 0 {
		return 0, &HostError{Code: sqlite3.SQLITE_NOMEM}
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(s)+1), s)
	*(*byte)(unsafe.Pointer(p + uintptr(len(s)))) = 0
	return p, nil
}

func malloc(tls *libc.TLS, n int32) (uintptr, error) {
	p := sqlite3.Xsqlite3_malloc(tls, n)
	if p == 0 {
		return 0, &HostError{Code: sqlite3.SQLITE_NOMEM}
	}

	return p, nil
}

// const char *sqlite3_errstr(int);
func errstr(rc int32) string {
	tls := libc.NewTLS()

	defer tls.Close()

	return libc.GoString(sqlite3.Xsqlite3_errstr(tls, rc))
}

var version struct {
	sync.Once
	number int32
	str    string
}

// VersionNumber reports SQLITE_VERSION_NUMBER of the linked library,
// probed once per process.
//
// int sqlite3_libversion_number(void);
func VersionNumber() int32 {
	version.Do(func() {
		tls := libc.NewTLS()

		defer tls.Close()

		version.number = sqlite3.Xsqlite3_libversion_number(tls)
		version.str = libc.GoString(sqlite3.Xsqlite3_libversion(tls))
	})
	return version.number
}

// Version reports the SQLITE_VERSION string of the linked library.
//
// const char *sqlite3_libversion(void);
func Version() string {
	VersionNumber()
	return version.str
}

// OpenFlag is a SQLITE_OPEN_* bit passed to OpenConn.
type OpenFlag int32

const (
	OpenReadOnly  = OpenFlag(sqlite3.SQLITE_OPEN_READONLY)
	OpenReadWrite = OpenFlag(sqlite3.SQLITE_OPEN_READWRITE)
	OpenCreate    = OpenFlag(sqlite3.SQLITE_OPEN_CREATE)
	OpenURI       = OpenFlag(sqlite3.SQLITE_OPEN_URI)
	OpenMemory    = OpenFlag(sqlite3.SQLITE_OPEN_MEMORY)
	OpenFullMutex = OpenFlag(sqlite3.SQLITE_OPEN_FULLMUTEX)
)

// Conn is an open database connection.
//
// A Conn obtained from OpenConn owns its handle and must be closed by
// the caller. A Conn handed to an auto-extension Init callback wraps a
// handle owned by whoever opened it and is valid only for the duration
// of the callback.
type Conn struct {
	tls     *libc.TLS
	db      uintptr
	version int32
	owned   bool
}

// allConns maps sqlite3* handles to their Go wrappers so that host
// callbacks (sqlite3_context_db_handle) can recover the Conn.
var allConns = struct {
	sync.RWMutex
	m map[uintptr]*Conn
}{m: map[uintptr]*Conn{}}

// OpenConn opens a connection to the database at name. With no flags
// the connection is opened read/write, creating the database if needed,
// with URI filename interpretation and the full mutex. Extended result
// codes are enabled. Scalar functions registered process-wide are
// installed before OpenConn returns.
//
// int sqlite3_open_v2(const char *filename, sqlite3 **ppDb, int flags, const char *zVfs);
func OpenConn(name string, flags ...OpenFlag) (*Conn, error) {
	var f int32
	for _, v := range flags {
		f |= int32(v)
	}
	if f == 0 {
		f = sqlite3.SQLITE_OPEN_READWRITE | sqlite3.SQLITE_OPEN_CREATE |
			sqlite3.SQLITE_OPEN_URI | sqlite3.SQLITE_OPEN_FULLMUTEX
	}

	tls := libc.NewTLS()
	zName, err := cString(tls, name)
	if err != nil {
		tls.Close()
		return nil, err
	}

	defer libc.Xfree(tls, zName)

	ppdb, err := malloc(tls, int32(ptrSize))
	if err != nil {
		tls.Close()
		return nil, err
	}

	rc := sqlite3.Xsqlite3_open_v2(tls, zName, ppdb, f, 0)
	db := readPtr(ppdb)
	sqlite3.Xsqlite3_free(tls, ppdb)
	if rc != sqlite3.SQLITE_OK {
		if db != 0 {
			sqlite3.Xsqlite3_close_v2(tls, db)
		}
		tls.Close()
		return nil, &HostError{Code: rc}
	}

	if trace {
		tracer(nil, "OpenConn(%q, %#x): db %#x", name, f, db)
	}
	sqlite3.Xsqlite3_extended_result_codes(tls, db, 1)
	c := &Conn{
		tls:     tls,
		db:      db,
		version: sqlite3.Xsqlite3_libversion_number(tls),
		owned:   true,
	}
	allConns.Lock()
	allConns.m[db] = c
	allConns.Unlock()
	if err := applyRegisteredFunctions(c); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// attachConn wraps a handle opened elsewhere, for the duration of an
// auto-extension callback.
func attachConn(tls *libc.TLS, db uintptr) *Conn {
	allConns.RLock()
	c := allConns.m[db]
	allConns.RUnlock()
	if c != nil {
		return c
	}

	return &Conn{
		tls:     tls,
		db:      db,
		version: sqlite3.Xsqlite3_libversion_number(tls),
	}
}

// Close releases the connection. Closing a Conn not obtained from
// OpenConn is an error.
//
// int sqlite3_close_v2(sqlite3*);
func (c *Conn) Close() error {
	if !c.owned {
		return &ArgumentError{Msg: "cannot close a connection this package does not own"}
	}
	if c.db == 0 {
		return &ArgumentError{Msg: "connection already closed"}
	}

	allConns.Lock()
	delete(allConns.m, c.db)
	allConns.Unlock()
	rc := sqlite3.Xsqlite3_close_v2(c.tls, c.db)
	c.db = 0
	c.tls.Close()
	c.tls = nil
	if rc != sqlite3.SQLITE_OK {
		return &HostError{Code: rc}
	}

	return nil
}

// error converts a non-OK host result code on this connection into a
// HostError carrying the connection's current error message.
//
// const char *sqlite3_errmsg(sqlite3*);
func (c *Conn) error(rc int32) error {
	if rc == sqlite3.SQLITE_OK {
		return nil
	}

	return &HostError{Code: rc, Msg: libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, c.db))}
}

// VersionNumber reports the library version as probed when the
// connection was created.
func (c *Conn) VersionNumber() int32 { return c.version }

// CheckVersion fails with a VersionError when the library is older
// than needed (a SQLITE_VERSION_NUMBER value).
func (c *Conn) CheckVersion(needed int32) error {
	if c.version < needed {
		return &VersionError{Needed: needed, Got: c.version}
	}

	return nil
}
