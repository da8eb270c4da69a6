// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"bytes"
	"database/sql/driver"
	"math"
	"testing"

	sqlite3 "modernc.org/sqlite/lib"
)

func TestValueRoundTrip(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	cases := []driver.Value{
		int64(0),
		int64(-1),
		int64(1) << 62,
		3.25,
		"",
		"hello",
		"nаïve — ключ", // multi-byte
		string([]byte{'a', 0, 'b'}),
	}
	for i, v := range cases {
		got, err := c.QueryValue("select ?", v)
		if err != nil {
			t.Fatal(i, err)
		}

		if g, e := got, v; g != e {
			t.Fatal(i, g, e)
		}
	}

	blob := []byte{0, 1, 0, 2, 0xff}
	got, err := c.QueryValue("select ?", blob)
	if err != nil {
		t.Fatal(err)
	}

	if g, e := got.([]byte), blob; !bytes.Equal(g, e) {
		t.Fatal(g, e)
	}

	got, err = c.QueryValue("select ?", nil)
	if err != nil {
		t.Fatal(err)
	}

	if got != nil {
		t.Fatal(got)
	}
}

func TestOwnedValueCoercions(t *testing.T) {
	if g, e := IntegerValue(42).Text(), "42"; g != e {
		t.Fatal(g, e)
	}

	if g, e := IntegerValue(42).Float(), 42.0; g != e {
		t.Fatal(g, e)
	}

	if g, e := FloatValue(2.5).Int64(), int64(2); g != e {
		t.Fatal(g, e)
	}

	if g, e := TextValue("12abc").Int64(), int64(12); g != e {
		t.Fatal(g, e)
	}

	if g, e := TextValue(" -3 ").Int64(), int64(-3); g != e {
		t.Fatal(g, e)
	}

	if g, e := TextValue("abc").Int64(), int64(0); g != e {
		t.Fatal(g, e)
	}

	if g, e := TextValue("99999999999999999999").Int64(), int64(math.MaxInt64); g != e {
		t.Fatal(g, e)
	}

	if g, e := TextValue("-99999999999999999999").Int64(), int64(math.MinInt64); g != e {
		t.Fatal(g, e)
	}

	if g, e := TextValue(" 2.5x").Float(), 2.5; g != e {
		t.Fatal(g, e)
	}

	if g, e := BlobValue([]byte("7")).Int64(), int64(7); g != e {
		t.Fatal(g, e)
	}

	if g, e := (Value{}).Type(), TypeNull; g != e {
		t.Fatal(g, e)
	}

	if !(Value{}).IsNull() {
		t.Fatal("zero Value is not NULL")
	}

	if g, e := TextValue("x").Type(), TypeText; g != e {
		t.Fatal(g, e)
	}

	if _, err := TextValue("x").List(); err == nil {
		t.Fatal("expected List on an owned value to fail")
	}
}

func TestPointerPassing(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	err := c.CreateScalarFunction("plen", FunctionOptions{NArgs: 1},
		func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
			v, err := ctx.ArgValue(0).Pointer("intslice")
			if err != nil {
				return nil, err
			}

			return int64(len(v.([]int))), nil
		})
	if err != nil {
		t.Fatal(err)
	}

	v, err := c.QueryValue("select plen(?)", Pointer{Tag: "intslice", Value: []int{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}

	if g, e := v, driver.Value(int64(3)); g != e {
		t.Fatal(g, e)
	}

	// A pointer value reads as NULL through the ordinary accessors.
	v, err = c.QueryValue("select typeof(?)", Pointer{Tag: "intslice", Value: []int{1}})
	if err != nil {
		t.Fatal(err)
	}

	if g, e := v, driver.Value("null"); g != e {
		t.Fatal(g, e)
	}
}

func TestPointerTagMismatch(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	err := c.CreateScalarFunction("pwrong", FunctionOptions{NArgs: 1},
		func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
			_, err := ctx.ArgValue(0).Pointer("other")
			return nil, err
		})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.QueryValue("select pwrong(?)", Pointer{Tag: "intslice", Value: []int{1}})
	he, ok := err.(*HostError)
	if !ok {
		t.Fatalf("expected HostError, got %v", err)
	}

	if g, e := he.Code, int32(sqlite3.SQLITE_MISMATCH); g != e {
		t.Fatal(g, e)
	}
}

func TestResultSubtype(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	err := c.CreateScalarFunction("tagged", FunctionOptions{NArgs: 1},
		func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
			ctx.SetSubtype(74)
			return args[0], nil
		})
	if err != nil {
		t.Fatal(err)
	}

	err = c.CreateScalarFunction("subtype_of", FunctionOptions{NArgs: 1},
		func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
			return int64(ctx.ArgValue(0).Subtype()), nil
		})
	if err != nil {
		t.Fatal(err)
	}

	v, err := c.QueryValue("select subtype_of(tagged(1))")
	if err != nil {
		t.Fatal(err)
	}

	if g, e := v, driver.Value(int64(74)); g != e {
		t.Fatal(g, e)
	}
}
