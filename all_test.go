// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"database/sql/driver"
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"
	"testing"
	"time"
)

func caller(s string, va ...interface{}) {
	if s == "" {
		s = strings.Repeat("%v ", len(va))
	}
	_, fn, fl, _ := runtime.Caller(2)
	fmt.Fprintf(os.Stderr, "# caller: %s:%d: ", path.Base(fn), fl)
	fmt.Fprintf(os.Stderr, s, va...)
	fmt.Fprintln(os.Stderr)
	_, fn, fl, _ = runtime.Caller(1)
	fmt.Fprintf(os.Stderr, "# \tcallee: %s:%d: ", path.Base(fn), fl)
	fmt.Fprintln(os.Stderr)
	os.Stderr.Sync()
}

func dbg(s string, va ...interface{}) {
	if s == "" {
		s = strings.Repeat("%v ", len(va))
	}
	_, fn, fl, _ := runtime.Caller(1)
	fmt.Fprintf(os.Stderr, "# dbg %s:%d: ", path.Base(fn), fl)
	fmt.Fprintf(os.Stderr, s, va...)
	fmt.Fprintln(os.Stderr)
	os.Stderr.Sync()
}

func use(...interface{}) {}

func init() {
	use(caller, dbg)
}

// ============================================================================

func tempConn(t testing.TB) *Conn {
	c, err := OpenConn(":memory:")
	if err != nil {
		t.Fatal(err)
	}

	return c
}

func TestOpenConn(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	if err := c.Exec(`
drop table if exists t;
create table t(i);
insert into t values(42), (314);
`); err != nil {
		t.Fatal(err)
	}

	v, err := c.QueryValue("select sum(i) from t")
	if err != nil {
		t.Fatal(err)
	}

	if g, e := v, driver.Value(int64(356)); g != e {
		t.Fatal(g, e)
	}
}

func TestCloseTwice(t *testing.T) {
	c := tempConn(t)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err == nil {
		t.Fatal("expected error closing twice")
	}
}

func TestVersion(t *testing.T) {
	c := tempConn(t)

	defer c.Close()

	v, err := c.QueryValue("select sqlite_version()")
	if err != nil {
		t.Fatal(err)
	}

	if g, e := v, driver.Value(Version()); g != e {
		t.Fatal(g, e)
	}

	if g, e := c.VersionNumber(), VersionNumber(); g != e {
		t.Fatal(g, e)
	}

	if err := c.CheckVersion(VersionNumber()); err != nil {
		t.Fatal(err)
	}

	err = c.CheckVersion(VersionNumber() + 1)
	if _, ok := err.(*VersionError); !ok {
		t.Fatalf("expected VersionError, got %v", err)
	}

	sid, err := c.QueryValue("select sqlite_source_id()")
	if err != nil {
		t.Fatal(err)
	}

	releaseDate, err := time.Parse(`2006-01-02`, sid.(string)[:10])
	if err != nil {
		t.Fatal(err)
	}

	t.Logf("%s (%s)\n", Version(), releaseDate.Format(`02/Jan/2006`))
}

// TestConnChurn opens and closes many connections, each with a module
// registered, a table connected and a scan run, and then checks that
// every instance and cursor registry entry has drained.
func TestConnChurn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in -short mode")
	}

	if err := setMaxOpenFiles(1024); err != nil {
		t.Log(err)
	}

	for i := 0; i < 200; i++ {
		c := tempConn(t)
		counts := &lifeCounts{}
		if err := RegisterModule(c, "tr", threeRowsModule(counts)); err != nil {
			c.Close()
			t.Fatal(i, err)
		}

		if err := c.Exec(`
create virtual table vt using tr;
select v from vt;
drop table vt;
select v from tr;
`); err != nil {
			c.Close()
			t.Fatal(i, err)
		}

		if err := c.Close(); err != nil {
			t.Fatal(i, err)
		}
	}

	xvtables.RLock()
	nv := len(xvtables.m)
	xvtables.RUnlock()
	if g, e := nv, 0; g != e {
		t.Fatal(g, e)
	}

	xcursors.RLock()
	nc := len(xcursors.m)
	xcursors.RUnlock()
	if g, e := nc, 0; g != e {
		t.Fatal(g, e)
	}
}
