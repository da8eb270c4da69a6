// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"database/sql/driver"
	"sync/atomic"
	"testing"
)

func TestAutoExtension(t *testing.T) {
	defer ResetAutoExtensions()

	var inits int32
	ext := &Extension{
		Name: "marker",
		Init: func(c *Conn) error {
			atomic.AddInt32(&inits, 1)
			return c.CreateScalarFunction("ext_marker", FunctionOptions{NArgs: 0},
				func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
					return "marker", nil
				})
		},
	}
	if err := RegisterAutoExtension(ext); err != nil {
		t.Fatal(err)
	}

	c := tempConn(t)
	v, err := c.QueryValue("select ext_marker()")
	if err != nil {
		c.Close()
		t.Fatal(err)
	}

	if g, e := v, driver.Value("marker"); g != e {
		c.Close()
		t.Fatal(g, e)
	}

	if g, e := atomic.LoadInt32(&inits), int32(1); g != e {
		c.Close()
		t.Fatal(g, e)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	// Cancellation is by identity; later connections are untouched.
	if !CancelAutoExtension(ext) {
		t.Fatal("extension not found for cancellation")
	}

	if CancelAutoExtension(ext) {
		t.Fatal("extension cancelled twice")
	}

	c = tempConn(t)

	defer c.Close()

	if _, err := c.QueryValue("select ext_marker()"); err == nil {
		t.Fatal("expected ext_marker to be unknown after cancellation")
	}

	if g, e := atomic.LoadInt32(&inits), int32(1); g != e {
		t.Fatal(g, e)
	}
}

func TestAutoExtensionFailure(t *testing.T) {
	defer ResetAutoExtensions()

	ext := &Extension{
		Name: "failing",
		Init: func(c *Conn) error {
			return &Error{Msg: "refusing to initialize"}
		},
	}
	if err := RegisterAutoExtension(ext); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenConn(":memory:"); err == nil {
		t.Fatal("expected open to fail while a failing extension is registered")
	}
}

func TestResetAutoExtensions(t *testing.T) {
	var inits int32
	ext := &Extension{
		Init: func(c *Conn) error {
			atomic.AddInt32(&inits, 1)
			return nil
		},
	}
	if err := RegisterAutoExtension(ext); err != nil {
		t.Fatal(err)
	}

	ResetAutoExtensions()

	c := tempConn(t)

	defer c.Close()

	if g, e := atomic.LoadInt32(&inits), int32(0); g != e {
		t.Fatal(g, e)
	}
}

func TestCollationPanicStopsAtBoundary(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	if err := c.CreateCollation("boom", func(a, b string) int {
		panic("comparator failure")
	}); err != nil {
		t.Fatal(err)
	}

	if err := c.Exec(`
create table t(v TEXT);
insert into t(v) values ('b'), ('a'), ('c');
`); err != nil {
		t.Fatal(err)
	}

	// The comparator has no error channel; every comparison resolves as
	// equality and the scan still completes.
	if g, e := len(scanText(t, c, "select v from t order by v collate boom")), 3; g != e {
		t.Fatal(g, e)
	}
}

func TestRegisterAutoExtensionValidation(t *testing.T) {
	err := RegisterAutoExtension(&Extension{Name: "no-init"})
	if _, ok := err.(*ArgumentError); !ok {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
}
