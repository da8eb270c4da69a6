// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"sync"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// Extension is a unit of per-connection initialization: Init runs
// against every connection the engine opens after registration. The
// Conn handed to Init is valid only for the duration of the call.
type Extension struct {
	Name string
	Init func(c *Conn) error
}

// autoExts is the Go-side auto-extension list. The engine's own list
// holds a single real entry point (autoExtTramp) installed on first
// registration; identity-based cancellation happens here, where Go
// function values have identity.
var autoExts = struct {
	sync.Mutex
	list      []*Extension
	installed bool
}{}

// RegisterAutoExtension arranges for e.Init to run on every connection
// opened after this call, including connections opened by other users
// of the engine in this process.
//
// int sqlite3_auto_extension(void(*xEntryPoint)(void));
func RegisterAutoExtension(e *Extension) error {
	if e == nil || e.Init == nil {
		return &ArgumentError{Msg: "extension has no Init"}
	}

	autoExts.Lock()

	defer autoExts.Unlock()

	if !autoExts.installed {
		tls := libc.NewTLS()
		rc := sqlite3.Xsqlite3_auto_extension(tls, cFuncPointer(autoExtTramp))
		tls.Close()
		if rc != sqlite3.SQLITE_OK {
			return &HostError{Code: rc}
		}

		autoExts.installed = true
	}
	autoExts.list = append(autoExts.list, e)
	return nil
}

// CancelAutoExtension removes a previously registered extension,
// matched by identity. It reports whether anything was removed.
// Connections already initialized keep whatever e.Init did.
func CancelAutoExtension(e *Extension) bool {
	autoExts.Lock()

	defer autoExts.Unlock()

	for i, x := range autoExts.list {
		if x == e {
			autoExts.list = append(autoExts.list[:i], autoExts.list[i+1:]...)
			return true
		}
	}
	return false
}

// ResetAutoExtensions clears the engine's auto-extension list,
// including entries registered by other users of the engine.
//
// void sqlite3_reset_auto_extension(void);
func ResetAutoExtensions() {
	autoExts.Lock()

	defer autoExts.Unlock()

	autoExts.list = nil
	if autoExts.installed {
		tls := libc.NewTLS()
		sqlite3.Xsqlite3_reset_auto_extension(tls)
		tls.Close()
		autoExts.installed = false
	}
}

// int (*xEntryPoint)(sqlite3*, char**, const sqlite3_api_routines*);
func autoExtTramp(tls *libc.TLS, db, pzErrMsg, pThunk uintptr) (rc int32) {
	defer guard(&rc)

	c := attachConn(tls, db)
	if err := applyRegisteredFunctions(c); err != nil {
		autoExtError(tls, pzErrMsg, err)
		return errCode(err)
	}

	autoExts.Lock()
	list := make([]*Extension, len(autoExts.list))
	copy(list, autoExts.list)
	autoExts.Unlock()

	for _, e := range list {
		if err := e.Init(c); err != nil {
			autoExtError(tls, pzErrMsg, err)
			return errCode(err)
		}
	}
	return sqlite3.SQLITE_OK
}

// autoExtError hands the failure message to the host, which frees it
// with sqlite3_free.
func autoExtError(tls *libc.TLS, pzErrMsg uintptr, err error) {
	if pzErrMsg == 0 {
		return
	}

	if p, e := sqliteCString(tls, err.Error()); e == nil {
		writePtr(pzErrMsg, p)
	}
}

var xcollations = struct {
	sync.Mutex
	m    map[uintptr]func(a, b string) int
	next uintptr
}{m: map[uintptr]func(a, b string) int{}, next: 1}

func collationDestroyTramp(tls *libc.TLS, h uintptr) {
	xcollations.Lock()
	delete(xcollations.m, h)
	xcollations.Unlock()
}

// int (*xCompare)(void*, int, const void*, int, const void*);
//
// xCompare has no error channel; a panicking comparator still must not
// unwind into host frames, so the recovery here reports equality.
func collationCompareTramp(tls *libc.TLS, pArg uintptr, n1 int32, p1 uintptr, n2 int32, p2 uintptr) (r int32) {
	defer func() {
		if recover() != nil {
			r = 0
		}
	}()

	xcollations.Lock()
	cmp := xcollations.m[pArg]
	xcollations.Unlock()
	if cmp == nil {
		return 0
	}

	a := string(libc.GoBytes(p1, int(n1)))
	b := string(libc.GoBytes(p2, int(n2)))
	switch d := cmp(a, b); {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// CreateCollation registers a collating sequence on the connection.
// Registering the same name again replaces the previous comparator and
// releases it.
//
// int sqlite3_create_collation_v2(sqlite3*, const char *zName, int eTextRep, void *pArg,
//	int(*xCompare)(void*,int,const void*,int,const void*),
//	void(*xDestroy)(void*));
func (c *Conn) CreateCollation(name string, cmp func(a, b string) int) error {
	if cmp == nil {
		return &ArgumentError{Msg: "nil collation comparator"}
	}

	zName, err := cString(c.tls, name)
	if err != nil {
		return err
	}

	defer libc.Xfree(c.tls, zName)

	xcollations.Lock()
	h := xcollations.next
	xcollations.next++
	xcollations.m[h] = cmp
	xcollations.Unlock()

	rc := sqlite3.Xsqlite3_create_collation_v2(c.tls, c.db, zName, sqlite3.SQLITE_UTF8, h,
		cFuncPointer(collationCompareTramp), cFuncPointer(collationDestroyTramp))
	if rc != sqlite3.SQLITE_OK {
		collationDestroyTramp(c.tls, h)
		return c.error(rc)
	}

	return nil
}
