// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlite3ext adapts Go code to the SQLite extension surface of
// the pure-Go SQLite engine shipped by modernc.org/sqlite.
//
// It lets Go code register scalar, aggregate and window functions,
// collations and virtual table modules on a connection, pass typed Go
// values through the sqlite3_bind_pointer protocol, and hook into the
// sqlite3_auto_extension machinery so that every connection opened
// through the engine is initialized the same way.
//
// Registering a function
//
// To register a scalar function for all connections opened by this
// process do something like
//
//	sqlite3ext.MustRegisterDeterministicScalarFunction(
//		"double", 1,
//		func(ctx *sqlite3ext.FunctionContext, args []driver.Value) (driver.Value, error) {
//			switch x := args[0].(type) {
//			case int64:
//				return 2 * x, nil
//			case float64:
//				return 2 * x, nil
//			default:
//				return nil, fmt.Errorf("expected numeric argument, got %T", x)
//			}
//		},
//	)
//
// Virtual tables
//
// A virtual table module is a Go type implementing VTab plus any of the
// optional capability interfaces (WritableVTab, TransactionVTab,
// RenameVTab, ...). Only the callbacks the type actually implements are
// exposed to the engine; SQLite probes capabilities by null pointers in
// the sqlite3_module table, and the adapter fills exactly the slots the
// Go method set covers. See examples/series for an eponymous table.
//
// Sqlite documentation
//
// See https://sqlite.org/docs.html
package sqlite3ext
