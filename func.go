// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"database/sql/driver"
	"fmt"
	"sync"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// ScalarFunction implements an application-defined SQL function. The
// context and the argument values are valid only for the duration of
// the call.
type ScalarFunction = func(ctx *FunctionContext, args []driver.Value) (driver.Value, error)

// AggregateFunction accumulates rows and produces a final value. One
// instance is created per aggregate evaluation.
type AggregateFunction interface {
	Step(ctx *FunctionContext, args []driver.Value) error
	Final(ctx *FunctionContext) (driver.Value, error)
}

// WindowFunction is an aggregate usable as a window function: Value
// reports the current result without ending the aggregation and
// Inverse removes a row previously added by Step. Requires SQLite
// 3.25.0.
type WindowFunction interface {
	AggregateFunction
	Value(ctx *FunctionContext) (driver.Value, error)
	Inverse(ctx *FunctionContext, args []driver.Value) error
}

// FunctionOptions configures a function registration. NArgs of -1
// registers a variadic function. Text encoding is always UTF-8.
type FunctionOptions struct {
	NArgs         int32
	Deterministic bool
	DirectOnly    bool
	Innocuous     bool
}

type funcDef struct {
	scalar  ScalarFunction
	makeAgg func() AggregateFunction
	window  bool
}

var xfuncs = struct {
	sync.Mutex
	m    map[uintptr]*funcDef
	next uintptr
}{m: map[uintptr]*funcDef{}, next: 1}

func boxFunc(def *funcDef) uintptr {
	xfuncs.Lock()

	defer xfuncs.Unlock()

	h := xfuncs.next
	xfuncs.next++
	xfuncs.m[h] = def
	return h
}

func unboxFunc(h uintptr) *funcDef {
	xfuncs.Lock()

	defer xfuncs.Unlock()

	return xfuncs.m[h]
}

func funcDestroyTramp(tls *libc.TLS, h uintptr) {
	xfuncs.Lock()
	delete(xfuncs.m, h)
	xfuncs.Unlock()
}

// guardContext reports a recovered panic as the outcome of the current
// call; function callbacks return void, so the code travels through
// sqlite3_result_error_code.
func guardContext(tls *libc.TLS, ctx uintptr) {
	if r := recover(); r != nil {
		sqlite3.Xsqlite3_result_error_code(tls, ctx, sqlite3.SQLITE_INTERNAL)
	}
}

func funcArgs(tls *libc.TLS, argc int32, argv uintptr) []driver.Value {
	args := make([]driver.Value, argc)
	for i := int32(0); i < argc; i++ {
		args[i] = borrowedValue(tls, readPtr(argv+uintptr(i)*uintptr(ptrSize))).GoValue()
	}
	return args
}

func callerDef(tls *libc.TLS, ctx uintptr) *funcDef {
	return unboxFunc(sqlite3.Xsqlite3_user_data(tls, ctx))
}

// void (*xFunc)(sqlite3_context*, int, sqlite3_value**);
func funcTramp(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	defer guardContext(tls, ctx)

	def := callerDef(tls, ctx)
	if def == nil || def.scalar == nil {
		sqlite3.Xsqlite3_result_error_code(tls, ctx, sqlite3.SQLITE_INTERNAL)
		return
	}

	fctx := &FunctionContext{tls: tls, ptr: ctx, argc: argc, argv: argv}
	v, err := def.scalar(fctx, funcArgs(tls, argc, argv))
	if err != nil {
		resultError(tls, ctx, err)
		return
	}

	if err := resultValue(tls, ctx, v); err != nil {
		resultError(tls, ctx, err)
	}
}

// void (*xStep)(sqlite3_context*, int, sqlite3_value**);
func stepTramp(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	defer guardContext(tls, ctx)

	def := callerDef(tls, ctx)
	if def == nil || def.makeAgg == nil {
		sqlite3.Xsqlite3_result_error_code(tls, ctx, sqlite3.SQLITE_INTERNAL)
		return
	}

	fctx := &FunctionContext{tls: tls, ptr: ctx, argc: argc, argv: argv}
	acc, err := fctx.Aggregate(func() interface{} { return def.makeAgg() })
	if err != nil {
		resultError(tls, ctx, err)
		return
	}

	if err := acc.(AggregateFunction).Step(fctx, funcArgs(tls, argc, argv)); err != nil {
		resultError(tls, ctx, err)
	}
}

// void (*xFinal)(sqlite3_context*);
func finalTramp(tls *libc.TLS, ctx uintptr) {
	defer guardContext(tls, ctx)

	def := callerDef(tls, ctx)
	if def == nil || def.makeAgg == nil {
		sqlite3.Xsqlite3_result_error_code(tls, ctx, sqlite3.SQLITE_INTERNAL)
		return
	}

	fctx := &FunctionContext{tls: tls, ptr: ctx}
	acc, ok := fctx.aggregateValue(true)
	if !ok {
		// No rows were stepped; a fresh accumulator produces the
		// aggregate's value over the empty set.
		acc = def.makeAgg()
	}
	v, err := acc.(AggregateFunction).Final(fctx)
	if err != nil {
		resultError(tls, ctx, err)
		return
	}

	if err := resultValue(tls, ctx, v); err != nil {
		resultError(tls, ctx, err)
	}
}

// void (*xValue)(sqlite3_context*);
func valueTramp(tls *libc.TLS, ctx uintptr) {
	defer guardContext(tls, ctx)

	def := callerDef(tls, ctx)
	if def == nil || def.makeAgg == nil {
		sqlite3.Xsqlite3_result_error_code(tls, ctx, sqlite3.SQLITE_INTERNAL)
		return
	}

	fctx := &FunctionContext{tls: tls, ptr: ctx}
	acc, ok := fctx.aggregateValue(false)
	if !ok {
		acc = def.makeAgg()
	}
	v, err := acc.(WindowFunction).Value(fctx)
	if err != nil {
		resultError(tls, ctx, err)
		return
	}

	if err := resultValue(tls, ctx, v); err != nil {
		resultError(tls, ctx, err)
	}
}

// void (*xInverse)(sqlite3_context*, int, sqlite3_value**);
func inverseTramp(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	defer guardContext(tls, ctx)

	def := callerDef(tls, ctx)
	if def == nil || def.makeAgg == nil {
		sqlite3.Xsqlite3_result_error_code(tls, ctx, sqlite3.SQLITE_INTERNAL)
		return
	}

	fctx := &FunctionContext{tls: tls, ptr: ctx, argc: argc, argv: argv}
	acc, ok := fctx.aggregateValue(false)
	if !ok {
		sqlite3.Xsqlite3_result_error_code(tls, ctx, sqlite3.SQLITE_MISUSE)
		return
	}

	if err := acc.(WindowFunction).Inverse(fctx, funcArgs(tls, argc, argv)); err != nil {
		resultError(tls, ctx, err)
	}
}

func checkNArgs(n int32) error {
	if n < -1 || n > 127 {
		return &ArgumentError{Msg: fmt.Sprintf("invalid function arity %d", n)}
	}

	return nil
}

func (c *Conn) textRep(opts FunctionOptions) int32 {
	rep := int32(sqlite3.SQLITE_UTF8)
	if opts.Deterministic {
		rep |= sqlite3.SQLITE_DETERMINISTIC
	}
	if opts.DirectOnly && c.version >= 3030000 {
		rep |= sqlite3.SQLITE_DIRECTONLY
	}
	if opts.Innocuous && c.version >= 3031000 {
		rep |= sqlite3.SQLITE_INNOCUOUS
	}
	return rep
}

// CreateScalarFunction registers impl under name on this connection.
// Registering a function with the same name and arity replaces the
// previous implementation and releases its closure.
//
// int sqlite3_create_function_v2(sqlite3*, const char*, int, int, void*,
//	void (*xFunc)(sqlite3_context*,int,sqlite3_value**),
//	void (*xStep)(sqlite3_context*,int,sqlite3_value**),
//	void (*xFinal)(sqlite3_context*),
//	void (*xDestroy)(void*));
func (c *Conn) CreateScalarFunction(name string, opts FunctionOptions, impl ScalarFunction) error {
	if impl == nil {
		return &ArgumentError{Msg: "nil function implementation"}
	}
	if err := checkNArgs(opts.NArgs); err != nil {
		return err
	}

	zName, err := cString(c.tls, name)
	if err != nil {
		return err
	}

	defer libc.Xfree(c.tls, zName)

	h := boxFunc(&funcDef{scalar: impl})
	rc := sqlite3.Xsqlite3_create_function_v2(c.tls, c.db, zName, opts.NArgs, c.textRep(opts), h,
		cFuncPointer(funcTramp), 0, 0, cFuncPointer(funcDestroyTramp))
	if rc != sqlite3.SQLITE_OK {
		funcDestroyTramp(c.tls, h)
		return c.error(rc)
	}

	return nil
}

// CreateAggregateFunction registers an aggregate. makeAgg is invoked
// once per evaluation to produce a fresh accumulator.
func (c *Conn) CreateAggregateFunction(name string, opts FunctionOptions, makeAgg func() AggregateFunction) error {
	if makeAgg == nil {
		return &ArgumentError{Msg: "nil aggregate constructor"}
	}
	if err := checkNArgs(opts.NArgs); err != nil {
		return err
	}

	zName, err := cString(c.tls, name)
	if err != nil {
		return err
	}

	defer libc.Xfree(c.tls, zName)

	h := boxFunc(&funcDef{makeAgg: makeAgg})
	rc := sqlite3.Xsqlite3_create_function_v2(c.tls, c.db, zName, opts.NArgs, c.textRep(opts), h,
		0, cFuncPointer(stepTramp), cFuncPointer(finalTramp), cFuncPointer(funcDestroyTramp))
	if rc != sqlite3.SQLITE_OK {
		funcDestroyTramp(c.tls, h)
		return c.error(rc)
	}

	return nil
}

// CreateWindowFunction registers an aggregate window function.
// Requires SQLite 3.25.0; older libraries fail with a VersionError
// rather than degrading to a plain aggregate, because the host would
// silently never call Value/Inverse.
//
// int sqlite3_create_window_function(sqlite3*, const char*, int, int, void*,
//	void (*xStep)(sqlite3_context*,int,sqlite3_value**),
//	void (*xFinal)(sqlite3_context*),
//	void (*xValue)(sqlite3_context*),
//	void (*xInverse)(sqlite3_context*,int,sqlite3_value**),
//	void (*xDestroy)(void*));
func (c *Conn) CreateWindowFunction(name string, opts FunctionOptions, makeWin func() WindowFunction) error {
	if makeWin == nil {
		return &ArgumentError{Msg: "nil window function constructor"}
	}
	if err := c.CheckVersion(3025000); err != nil {
		return err
	}
	if err := checkNArgs(opts.NArgs); err != nil {
		return err
	}

	zName, err := cString(c.tls, name)
	if err != nil {
		return err
	}

	defer libc.Xfree(c.tls, zName)

	h := boxFunc(&funcDef{makeAgg: func() AggregateFunction { return makeWin() }, window: true})
	rc := sqlite3.Xsqlite3_create_window_function(c.tls, c.db, zName, opts.NArgs, c.textRep(opts), h,
		cFuncPointer(stepTramp), cFuncPointer(finalTramp), cFuncPointer(valueTramp),
		cFuncPointer(inverseTramp), cFuncPointer(funcDestroyTramp))
	if rc != sqlite3.SQLITE_OK {
		funcDestroyTramp(c.tls, h)
		return c.error(rc)
	}

	return nil
}

// OverloadFunction registers a no-op placeholder so that a function
// resolved through a virtual table's FindFunction can be referenced in
// SQL even when no global implementation exists.
//
// int sqlite3_overload_function(sqlite3*, const char*, int);
func (c *Conn) OverloadFunction(name string, nArgs int32) error {
	if err := checkNArgs(nArgs); err != nil {
		return err
	}

	zName, err := cString(c.tls, name)
	if err != nil {
		return err
	}

	defer libc.Xfree(c.tls, zName)

	return c.error(sqlite3.Xsqlite3_overload_function(c.tls, c.db, zName, nArgs))
}

type registeredFunc struct {
	impl          ScalarFunction
	deterministic bool
}

type funcKey struct {
	name  string
	nArgs int32
}

var registeredFuncs = struct {
	sync.Mutex
	m map[funcKey]registeredFunc
}{m: map[funcKey]registeredFunc{}}

// RegisterScalarFunction registers impl for every connection this
// package subsequently opens.
func RegisterScalarFunction(name string, nArgs int32, impl ScalarFunction) error {
	return registerScalarFunction(name, nArgs, false, impl)
}

// MustRegisterScalarFunction is like RegisterScalarFunction but panics
// on error.
func MustRegisterScalarFunction(name string, nArgs int32, impl ScalarFunction) {
	if err := RegisterScalarFunction(name, nArgs, impl); err != nil {
		panic(err)
	}
}

// RegisterDeterministicScalarFunction registers impl for every
// connection this package subsequently opens, declaring it
// deterministic: impl will always give the same output for the same
// inputs within a statement.
func RegisterDeterministicScalarFunction(name string, nArgs int32, impl ScalarFunction) error {
	return registerScalarFunction(name, nArgs, true, impl)
}

// MustRegisterDeterministicScalarFunction is like
// RegisterDeterministicScalarFunction but panics on error.
func MustRegisterDeterministicScalarFunction(name string, nArgs int32, impl ScalarFunction) {
	if err := RegisterDeterministicScalarFunction(name, nArgs, impl); err != nil {
		panic(err)
	}
}

func registerScalarFunction(name string, nArgs int32, deterministic bool, impl ScalarFunction) error {
	if impl == nil {
		return &ArgumentError{Msg: "nil function implementation"}
	}
	if err := checkNArgs(nArgs); err != nil {
		return err
	}

	k := funcKey{name: name, nArgs: nArgs}
	registeredFuncs.Lock()

	defer registeredFuncs.Unlock()

	if _, ok := registeredFuncs.m[k]; ok {
		return fmt.Errorf("a function named %q with %d arguments is already registered", name, nArgs)
	}

	registeredFuncs.m[k] = registeredFunc{impl: impl, deterministic: deterministic}
	return nil
}

func applyRegisteredFunctions(c *Conn) error {
	registeredFuncs.Lock()
	defs := make(map[funcKey]registeredFunc, len(registeredFuncs.m))
	for k, v := range registeredFuncs.m {
		defs[k] = v
	}
	registeredFuncs.Unlock()
	for k, v := range defs {
		opts := FunctionOptions{NArgs: k.nArgs, Deterministic: v.deterministic}
		if err := c.CreateScalarFunction(k.name, opts, v.impl); err != nil {
			return err
		}
	}
	return nil
}
