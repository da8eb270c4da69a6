// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"fmt"
	"reflect"
	"sync"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// FunctionContext wraps the sqlite3_context of a function call. It is
// valid only for the duration of the call that received it.
type FunctionContext struct {
	tls  *libc.TLS
	ptr  uintptr
	argc int32
	argv uintptr
}

// ArgValue returns argument i of the current call as a raw Value, for
// protocols the driver.Value form cannot carry (pointer values,
// subtypes). The Value is borrowed and shares the call's lifetime.
func (c *FunctionContext) ArgValue(i int) Value {
	if i < 0 || int32(i) >= c.argc {
		panic(fmt.Sprintf("argument index %d out of range [0, %d)", i, c.argc))
	}

	return borrowedValue(c.tls, readPtr(c.argv+uintptr(i)*uintptr(ptrSize)))
}

// Conn recovers the connection the function is executing on.
//
// sqlite3 *sqlite3_context_db_handle(sqlite3_context*);
func (c *FunctionContext) Conn() *Conn {
	return attachConn(c.tls, sqlite3.Xsqlite3_context_db_handle(c.tls, c.ptr))
}

// SetSubtype attaches a subtype to the result of the current call.
//
// void sqlite3_result_subtype(sqlite3_context*, unsigned int);
func (c *FunctionContext) SetSubtype(s uint32) {
	sqlite3.Xsqlite3_result_subtype(c.tls, c.ptr, s)
}

// auxes boxes auxiliary data values; the host keeps only the handle
// and drops it through the destructor when it discards a slot.
var auxes = struct {
	sync.Mutex
	m    map[uintptr]interface{}
	next uintptr
}{m: map[uintptr]interface{}{}, next: 1}

func auxDestroyTramp(tls *libc.TLS, h uintptr) {
	auxes.Lock()
	delete(auxes.m, h)
	auxes.Unlock()
}

// AuxData returns the auxiliary data associated with argument i of the
// current function call, if the host has kept it. The lifetime of a
// slot is entirely host-driven: the host discards it whenever the
// argument's binding changes, and may discard it at any time.
//
// void *sqlite3_get_auxdata(sqlite3_context*, int N);
func (c *FunctionContext) AuxData(i int) (interface{}, bool) {
	h := sqlite3.Xsqlite3_get_auxdata(c.tls, c.ptr, int32(i))
	if h == 0 {
		return nil, false
	}

	auxes.Lock()
	v, ok := auxes.m[h]
	auxes.Unlock()
	return v, ok
}

// SetAuxData associates v with argument i of the current call. The
// host may discard it immediately.
//
// void sqlite3_set_auxdata(sqlite3_context*, int N, void*, void(*)(void*));
func (c *FunctionContext) SetAuxData(i int, v interface{}) {
	auxes.Lock()
	h := auxes.next
	auxes.next++
	auxes.m[h] = v
	auxes.Unlock()
	sqlite3.Xsqlite3_set_auxdata(c.tls, c.ptr, int32(i), h, cFuncPointer(auxDestroyTramp))
}

// AuxValue returns the cached auxiliary data for argument i, computing
// and installing it when the host holds no value for the slot. This is
// the usual pattern for caching a compiled form of a constant argument
// (a compiled regexp, a parsed format) across calls within a statement.
func (c *FunctionContext) AuxValue(i int, compute func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.AuxData(i); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		return nil, err
	}

	c.SetAuxData(i, v)
	return v, nil
}

// aggs boxes aggregate accumulators. The 8-byte scratch the host hands
// out through sqlite3_aggregate_context holds the box handle.
var aggs = struct {
	sync.Mutex
	m    map[uintptr]interface{}
	next uintptr
}{m: map[uintptr]interface{}{}, next: 1}

// Aggregate returns the accumulator of the running aggregate,
// initializing it with init on the first step. init should return a
// pointer so that later steps observe mutations. An accumulator whose
// concrete type differs from the one init produces is reported as a
// MismatchError, never coerced.
//
// void *sqlite3_aggregate_context(sqlite3_context*, int nBytes);
func (c *FunctionContext) Aggregate(init func() interface{}) (interface{}, error) {
	p := sqlite3.Xsqlite3_aggregate_context(c.tls, c.ptr, int32(ptrSize))
	if p == 0 {
		return nil, &HostError{Code: sqlite3.SQLITE_NOMEM}
	}

	h := readPtr(p)
	if h == 0 {
		v := init()
		aggs.Lock()
		h = aggs.next
		aggs.next++
		aggs.m[h] = v
		aggs.Unlock()
		writePtr(p, h)
		return v, nil
	}

	aggs.Lock()
	v, ok := aggs.m[h]
	aggs.Unlock()
	if !ok {
		return nil, &MismatchError{Msg: "aggregate accumulator already released"}
	}
	if want := reflect.TypeOf(init()); reflect.TypeOf(v) != want {
		return nil, &MismatchError{Msg: "aggregate accumulator holds a different type"}
	}

	return v, nil
}

// aggregateValue reads the accumulator without initializing the
// scratch, releasing the box when done is true (the xFinal path; the
// host frees the scratch right after).
func (c *FunctionContext) aggregateValue(done bool) (interface{}, bool) {
	p := sqlite3.Xsqlite3_aggregate_context(c.tls, c.ptr, 0)
	if p == 0 {
		return nil, false
	}

	h := readPtr(p)
	if h == 0 {
		return nil, false
	}

	aggs.Lock()
	v, ok := aggs.m[h]
	if done {
		delete(aggs.m, h)
	}
	aggs.Unlock()
	return v, ok
}

// ColumnContext wraps the sqlite3_context of a virtual table column
// callback.
type ColumnContext struct {
	tls *libc.TLS
	ptr uintptr
}

// Conn recovers the connection driving the scan.
func (c *ColumnContext) Conn() *Conn {
	return attachConn(c.tls, sqlite3.Xsqlite3_context_db_handle(c.tls, c.ptr))
}

// NoChange reports whether the host is fetching this column only as a
// formality during an UPDATE that does not modify it. When it reports
// true the column callback may return Unchanged instead of the real
// value and skip any expensive retrieval.
//
// int sqlite3_vtab_nochange(sqlite3_context*);
func (c *ColumnContext) NoChange() bool {
	return sqlite3.Xsqlite3_vtab_nochange(c.tls, c.ptr) != 0
}

// SetSubtype attaches a subtype to the column result.
func (c *ColumnContext) SetSubtype(s uint32) {
	sqlite3.Xsqlite3_result_subtype(c.tls, c.ptr, s)
}
