// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"database/sql/driver"
	"fmt"
	"time"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// Stmt is a prepared statement.
type Stmt struct {
	c    *Conn
	stmt uintptr
}

// Prepare compiles the first statement in sql.
//
// int sqlite3_prepare_v2(sqlite3 *db, const char *zSql, int nByte, sqlite3_stmt **ppStmt, const char **pzTail);
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	zSQL, err := cString(c.tls, sql)
	if err != nil {
		return nil, err
	}

	defer libc.Xfree(c.tls, zSQL)

	ppstmt, err := malloc(c.tls, int32(ptrSize))
	if err != nil {
		return nil, err
	}

	defer sqlite3.Xsqlite3_free(c.tls, ppstmt)

	if rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, zSQL, -1, ppstmt, 0); rc != sqlite3.SQLITE_OK {
		return nil, c.error(rc)
	}

	stmt := readPtr(ppstmt)
	if stmt == 0 {
		return nil, &ArgumentError{Msg: fmt.Sprintf("query %q contains no statement", sql)}
	}

	return &Stmt{c: c, stmt: stmt}, nil
}

// Exec runs every statement in sql, binding args to each.
func (c *Conn) Exec(sql string, args ...driver.Value) error {
	zSQL, err := cString(c.tls, sql)
	if err != nil {
		return err
	}

	defer libc.Xfree(c.tls, zSQL)

	ppstmt, err := malloc(c.tls, int32(ptrSize))
	if err != nil {
		return err
	}

	defer sqlite3.Xsqlite3_free(c.tls, ppstmt)

	pzTail, err := malloc(c.tls, int32(ptrSize))
	if err != nil {
		return err
	}

	defer sqlite3.Xsqlite3_free(c.tls, pzTail)

	for p := zSQL; ; {
		if rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, p, -1, ppstmt, pzTail); rc != sqlite3.SQLITE_OK {
			return c.error(rc)
		}

		p = readPtr(pzTail)
		stmt := readPtr(ppstmt)
		if stmt == 0 {
			if p == 0 || *(*byte)(unsafe.Pointer(p)) == 0 {
				return nil
			}

			continue
		}

		s := &Stmt{c: c, stmt: stmt}
		if err := s.Bind(args...); err != nil {
			s.Finalize()
			return err
		}

		for {
			row, err := s.Step()
			if err != nil {
				s.Finalize()
				return err
			}
			if !row {
				break
			}
		}
		if err := s.Finalize(); err != nil {
			return err
		}
		if p == 0 || *(*byte)(unsafe.Pointer(p)) == 0 {
			return nil
		}
	}
}

// QueryValue runs sql and returns the first column of its first row,
// or nil when the statement produces no rows.
func (c *Conn) QueryValue(sql string, args ...driver.Value) (driver.Value, error) {
	s, err := c.Prepare(sql)
	if err != nil {
		return nil, err
	}

	defer s.Finalize()

	if err := s.Bind(args...); err != nil {
		return nil, err
	}

	row, err := s.Step()
	if err != nil {
		return nil, err
	}
	if !row {
		return nil, nil
	}

	return s.ColumnValue(0), nil
}

// Bind binds args to the statement's parameters, first parameter
// first.
func (s *Stmt) Bind(args ...driver.Value) error {
	for i, arg := range args {
		if err := s.bind(int32(i+1), arg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stmt) bind(i int32, arg driver.Value) error {
	tls := s.c.tls
	switch x := arg.(type) {
	case nil:
		// int sqlite3_bind_null(sqlite3_stmt*, int);
		return s.c.error(sqlite3.Xsqlite3_bind_null(tls, s.stmt, i))
	case int64:
		// int sqlite3_bind_int64(sqlite3_stmt*, int, sqlite3_int64);
		return s.c.error(sqlite3.Xsqlite3_bind_int64(tls, s.stmt, i, x))
	case int:
		return s.c.error(sqlite3.Xsqlite3_bind_int64(tls, s.stmt, i, int64(x)))
	case float64:
		// int sqlite3_bind_double(sqlite3_stmt*, int, double);
		return s.c.error(sqlite3.Xsqlite3_bind_double(tls, s.stmt, i, x))
	case bool:
		n := int64(0)
		if x {
			n = 1
		}
		return s.c.error(sqlite3.Xsqlite3_bind_int64(tls, s.stmt, i, n))
	case string:
		return s.bindText(i, x)
	case []byte:
		return s.bindBlob(i, x)
	case time.Time:
		return s.bindText(i, x.Format(time.RFC3339Nano))
	case ZeroBlob:
		// int sqlite3_bind_zeroblob(sqlite3_stmt*, int, int);
		return s.c.error(sqlite3.Xsqlite3_bind_zeroblob(tls, s.stmt, i, int32(x)))
	case Pointer:
		zTag, err := internTag(x.Tag)
		if err != nil {
			return err
		}

		h := boxPointer(x)
		// int sqlite3_bind_pointer(sqlite3_stmt*, int, void*, const char*, void(*)(void*));
		return s.c.error(sqlite3.Xsqlite3_bind_pointer(tls, s.stmt, i, h, zTag, cFuncPointer(pointerDestroyTramp)))
	case Value:
		switch x.Type() {
		case TypeInteger:
			return s.bind(i, x.Int64())
		case TypeFloat:
			return s.bind(i, x.Float())
		case TypeText:
			return s.bindText(i, x.Text())
		case TypeBlob:
			return s.bindBlob(i, x.Blob())
		default:
			return s.bind(i, nil)
		}
	default:
		return &ArgumentError{Msg: fmt.Sprintf("unsupported bind type %T", arg)}
	}
}

// int sqlite3_bind_text(sqlite3_stmt*, int, const char*, int, void(*)(void*));
func (s *Stmt) bindText(i int32, v string) error {
	tls := s.c.tls
	p, err := malloc(tls, int32(len(v)+1))
	if err != nil {
		return err
	}

	if len(v) != 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(v)), v)
	}
	rc := sqlite3.Xsqlite3_bind_text(tls, s.stmt, i, p, int32(len(v)), sqliteTransient)
	sqlite3.Xsqlite3_free(tls, p)
	return s.c.error(rc)
}

// int sqlite3_bind_blob(sqlite3_stmt*, int, const void*, int, void(*)(void*));
func (s *Stmt) bindBlob(i int32, v []byte) error {
	tls := s.c.tls
	if len(v) == 0 {
		return s.c.error(sqlite3.Xsqlite3_bind_zeroblob(tls, s.stmt, i, 0))
	}

	p, err := malloc(tls, int32(len(v)))
	if err != nil {
		return err
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(v)), v)
	rc := sqlite3.Xsqlite3_bind_blob(tls, s.stmt, i, p, int32(len(v)), sqliteTransient)
	sqlite3.Xsqlite3_free(tls, p)
	return s.c.error(rc)
}

// Step advances the statement, reporting whether a row is available.
//
// int sqlite3_step(sqlite3_stmt*);
func (s *Stmt) Step() (bool, error) {
	switch rc := sqlite3.Xsqlite3_step(s.c.tls, s.stmt); rc {
	case sqlite3.SQLITE_ROW:
		return true, nil
	case sqlite3.SQLITE_DONE:
		return false, nil
	default:
		return false, s.c.error(rc)
	}
}

// Reset rewinds the statement, keeping its bindings.
//
// int sqlite3_reset(sqlite3_stmt*);
func (s *Stmt) Reset() error {
	return s.c.error(sqlite3.Xsqlite3_reset(s.c.tls, s.stmt))
}

// Finalize releases the statement.
//
// int sqlite3_finalize(sqlite3_stmt*);
func (s *Stmt) Finalize() error {
	if s.stmt == 0 {
		return nil
	}

	rc := sqlite3.Xsqlite3_finalize(s.c.tls, s.stmt)
	s.stmt = 0
	return s.c.error(rc)
}

// ColumnCount reports the number of result columns.
//
// int sqlite3_column_count(sqlite3_stmt*);
func (s *Stmt) ColumnCount() int {
	return int(sqlite3.Xsqlite3_column_count(s.c.tls, s.stmt))
}

// ColumnName reports the name of result column i.
//
// const char *sqlite3_column_name(sqlite3_stmt*, int);
func (s *Stmt) ColumnName(i int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_name(s.c.tls, s.stmt, int32(i)))
}

// ColumnType reports the datatype of column i in the current row.
//
// int sqlite3_column_type(sqlite3_stmt*, int);
func (s *Stmt) ColumnType(i int) ValueType {
	return ValueType(sqlite3.Xsqlite3_column_type(s.c.tls, s.stmt, int32(i)))
}

// sqlite3_int64 sqlite3_column_int64(sqlite3_stmt*, int);
func (s *Stmt) ColumnInt64(i int) int64 {
	return sqlite3.Xsqlite3_column_int64(s.c.tls, s.stmt, int32(i))
}

// double sqlite3_column_double(sqlite3_stmt*, int);
func (s *Stmt) ColumnFloat(i int) float64 {
	return sqlite3.Xsqlite3_column_double(s.c.tls, s.stmt, int32(i))
}

// const unsigned char *sqlite3_column_text(sqlite3_stmt*, int);
func (s *Stmt) ColumnText(i int) string {
	p := sqlite3.Xsqlite3_column_text(s.c.tls, s.stmt, int32(i))
	if p == 0 {
		return ""
	}

	n := sqlite3.Xsqlite3_column_bytes(s.c.tls, s.stmt, int32(i))
	return string(libc.GoBytes(p, int(n)))
}

// const void *sqlite3_column_blob(sqlite3_stmt*, int);
func (s *Stmt) ColumnBlob(i int) []byte {
	p := sqlite3.Xsqlite3_column_blob(s.c.tls, s.stmt, int32(i))
	if p == 0 {
		return nil
	}

	n := sqlite3.Xsqlite3_column_bytes(s.c.tls, s.stmt, int32(i))
	b := make([]byte, int(n))
	copy(b, libc.GoBytes(p, int(n)))
	return b
}

// ColumnValue reports column i of the current row as a driver.Value.
func (s *Stmt) ColumnValue(i int) driver.Value {
	switch s.ColumnType(i) {
	case TypeInteger:
		return s.ColumnInt64(i)
	case TypeFloat:
		return s.ColumnFloat(i)
	case TypeText:
		return s.ColumnText(i)
	case TypeBlob:
		return s.ColumnBlob(i)
	default:
		return nil
	}
}

// LastInsertRowID reports the rowid of the most recent successful
// insert on the connection.
//
// sqlite3_int64 sqlite3_last_insert_rowid(sqlite3*);
func (c *Conn) LastInsertRowID() int64 {
	return sqlite3.Xsqlite3_last_insert_rowid(c.tls, c.db)
}

// Changes reports the number of rows modified by the most recent
// statement.
//
// int sqlite3_changes(sqlite3*);
func (c *Conn) Changes() int64 {
	return int64(sqlite3.Xsqlite3_changes(c.tls, c.db))
}
