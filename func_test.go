// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
)

func init() {
	MustRegisterDeterministicScalarFunction("double", 1, func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
		switch x := args[0].(type) {
		case int64:
			return 2 * x, nil
		case float64:
			return 2 * x, nil
		default:
			return nil, fmt.Errorf("expected numeric argument, got %T", x)
		}
	})
	MustRegisterScalarFunction("argc", -1, func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
		return int64(len(args)), nil
	})
}

func TestRegisteredFunctions(t *testing.T) {
	withConn := func(test func(c *Conn)) {
		c, err := OpenConn(":memory:")
		if err != nil {
			t.Fatal(err)
		}

		defer c.Close()

		test(c)
	}

	t.Run("double int", func(t *testing.T) {
		withConn(func(c *Conn) {
			v, err := c.QueryValue("select double(21)")
			if err != nil {
				t.Fatal(err)
			}

			if g, e := v, driver.Value(int64(42)); g != e {
				t.Fatal(g, e)
			}
		})
	})

	t.Run("double float", func(t *testing.T) {
		withConn(func(c *Conn) {
			v, err := c.QueryValue("select double(2.5)")
			if err != nil {
				t.Fatal(err)
			}

			if g, e := v, driver.Value(5.0); g != e {
				t.Fatal(g, e)
			}
		})
	})

	t.Run("double text fails", func(t *testing.T) {
		withConn(func(c *Conn) {
			_, err := c.QueryValue("select double('forty-two')")
			if err == nil {
				t.Fatal("expected error")
			}

			if !strings.Contains(err.Error(), "expected numeric argument") {
				t.Fatal(err)
			}
		})
	})

	t.Run("variadic", func(t *testing.T) {
		withConn(func(c *Conn) {
			v, err := c.QueryValue("select argc(1, 'a', x'ff', null)")
			if err != nil {
				t.Fatal(err)
			}

			if g, e := v, driver.Value(int64(4)); g != e {
				t.Fatal(g, e)
			}
		})
	})

	t.Run("duplicate registration", func(t *testing.T) {
		if err := RegisterScalarFunction("double", 1, func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
			return nil, nil
		}); err == nil {
			t.Fatal("expected duplicate registration to fail")
		}
	})
}

func TestCreateScalarFunctionReplace(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	mk := func(result string) ScalarFunction {
		return func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
			return result, nil
		}
	}
	if err := c.CreateScalarFunction("which", FunctionOptions{NArgs: 0}, mk("first")); err != nil {
		t.Fatal(err)
	}

	if err := c.CreateScalarFunction("which", FunctionOptions{NArgs: 0}, mk("second")); err != nil {
		t.Fatal(err)
	}

	v, err := c.QueryValue("select which()")
	if err != nil {
		t.Fatal(err)
	}

	if g, e := v, driver.Value("second"); g != e {
		t.Fatal(g, e)
	}
}

func TestCreateScalarFunctionBadName(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	err := c.CreateScalarFunction("bad\x00name", FunctionOptions{NArgs: 0}, func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
		return nil, nil
	})
	if _, ok := err.(*ArgumentError); !ok {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
}

type sumsq struct {
	n int64
}

func (s *sumsq) Step(ctx *FunctionContext, args []driver.Value) error {
	x, ok := args[0].(int64)
	if !ok {
		return fmt.Errorf("expected integer argument, got %T", args[0])
	}

	s.n += x * x
	return nil
}

func (s *sumsq) Final(ctx *FunctionContext) (driver.Value, error) { return s.n, nil }

func TestAggregateFunction(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	if err := c.CreateAggregateFunction("sumsq", FunctionOptions{NArgs: 1}, func() AggregateFunction {
		return &sumsq{}
	}); err != nil {
		t.Fatal(err)
	}

	if err := c.Exec("create table t(i); insert into t values (1), (2), (3)"); err != nil {
		t.Fatal(err)
	}

	v, err := c.QueryValue("select sumsq(i) from t")
	if err != nil {
		t.Fatal(err)
	}

	if g, e := v, driver.Value(int64(14)); g != e {
		t.Fatal(g, e)
	}

	// Empty input: a fresh accumulator produces the value over the
	// empty set.
	v, err = c.QueryValue("select sumsq(i) from t where i > 100")
	if err != nil {
		t.Fatal(err)
	}

	if g, e := v, driver.Value(int64(0)); g != e {
		t.Fatal(g, e)
	}
}

type winsum struct {
	n int64
}

func (w *winsum) Step(ctx *FunctionContext, args []driver.Value) error {
	w.n += args[0].(int64)
	return nil
}

func (w *winsum) Inverse(ctx *FunctionContext, args []driver.Value) error {
	w.n -= args[0].(int64)
	return nil
}

func (w *winsum) Value(ctx *FunctionContext) (driver.Value, error) { return w.n, nil }

func (w *winsum) Final(ctx *FunctionContext) (driver.Value, error) { return w.n, nil }

func TestWindowFunction(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	if err := c.CreateWindowFunction("winsum", FunctionOptions{NArgs: 1}, func() WindowFunction {
		return &winsum{}
	}); err != nil {
		t.Fatal(err)
	}

	if err := c.Exec("create table t(i); insert into t values (1), (2), (3), (4)"); err != nil {
		t.Fatal(err)
	}

	stmt, err := c.Prepare(`
select winsum(i) over (order by i rows between 1 preceding and current row) from t order by i
`)
	if err != nil {
		t.Fatal(err)
	}

	defer stmt.Finalize()

	var got []int64
	for {
		row, err := stmt.Step()
		if err != nil {
			t.Fatal(err)
		}
		if !row {
			break
		}

		got = append(got, stmt.ColumnInt64(0))
	}
	if g, e := got, []int64{1, 3, 5, 7}; !reflect.DeepEqual(g, e) {
		t.Fatal(g, e)
	}
}

func TestAuxDataCache(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	var computes int32
	err := c.CreateScalarFunction("cached_upper", FunctionOptions{NArgs: 1, Deterministic: true},
		func(ctx *FunctionContext, args []driver.Value) (driver.Value, error) {
			v, err := ctx.AuxValue(0, func() (interface{}, error) {
				atomic.AddInt32(&computes, 1)
				return strings.ToUpper(args[0].(string)), nil
			})
			if err != nil {
				return nil, err
			}

			return v.(string), nil
		})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Exec("create table t(i); insert into t values (1), (2), (3)"); err != nil {
		t.Fatal(err)
	}

	if g, e := scanText(t, c, "select cached_upper('abc') from t"), []string{"ABC", "ABC", "ABC"}; !reflect.DeepEqual(g, e) {
		t.Fatal(g, e)
	}

	// A constant argument keeps its slot for the whole statement.
	if g, e := atomic.LoadInt32(&computes), int32(1); g != e {
		t.Fatal(g, e)
	}

	// A new statement starts with an empty cache.
	if g, e := scanText(t, c, "select cached_upper('abc') from t"), []string{"ABC", "ABC", "ABC"}; !reflect.DeepEqual(g, e) {
		t.Fatal(g, e)
	}

	if g, e := atomic.LoadInt32(&computes), int32(2); g != e {
		t.Fatal(g, e)
	}
}

func TestCreateCollation(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	if err := c.CreateCollation("rev", func(a, b string) int {
		return strings.Compare(b, a)
	}); err != nil {
		t.Fatal(err)
	}

	if err := c.Exec("create table t(v); insert into t values ('ant'), ('cat'), ('bee')"); err != nil {
		t.Fatal(err)
	}

	if g, e := scanText(t, c, "select v from t order by v collate rev"), []string{"cat", "bee", "ant"}; !reflect.DeepEqual(g, e) {
		t.Fatal(g, e)
	}
}
