// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"fmt"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// IndexConstraintOp identifies the operator of a WHERE clause term
// handed to BestIndex, or the operator assigned to a function overload
// returned by FindFunction.
type IndexConstraintOp uint8

const (
	IndexConstraintEq        = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_EQ)
	IndexConstraintGt        = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_GT)
	IndexConstraintLe        = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_LE)
	IndexConstraintLt        = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_LT)
	IndexConstraintGe        = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_GE)
	IndexConstraintMatch     = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_MATCH)
	IndexConstraintLike      = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_LIKE)
	IndexConstraintGlob      = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_GLOB)
	IndexConstraintRegexp    = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_REGEXP)
	IndexConstraintNe        = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_NE)
	IndexConstraintIsNot     = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_ISNOT)
	IndexConstraintIsNotNull = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_ISNOTNULL)
	IndexConstraintIsNull    = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_ISNULL)
	IndexConstraintIs        = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_IS)
	IndexConstraintLimit     = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_LIMIT)
	IndexConstraintOffset    = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_OFFSET)
	IndexConstraintFunction  = IndexConstraintOp(sqlite3.SQLITE_INDEX_CONSTRAINT_FUNCTION)
)

// DistinctMode describes how much ordering/deduplication work the
// current query actually needs from the scan (sqlite3_vtab_distinct).
type DistinctMode int32

const (
	DistinctOrdered  DistinctMode = 0 // full ORDER BY semantics required
	DistinctGrouped  DistinctMode = 1 // GROUP BY: equal keys adjacent, any order
	DistinctDistinct DistinctMode = 2 // DISTINCT: duplicates may collapse
	DistinctOrderedD DistinctMode = 3 // DISTINCT + ORDER BY
)

// IndexID names the plan BestIndex chose. Whatever is stored here is
// delivered verbatim to the cursor's Filter call, Str included.
type IndexID struct {
	Num int32
	Str string
}

// IndexConstraint is a read-only view of one WHERE term.
type IndexConstraint struct {
	Column int32 // table column, -1 for rowid
	Op     IndexConstraintOp
	Usable bool
}

// IndexOrderBy is a read-only view of one ORDER BY term.
type IndexOrderBy struct {
	Column int32
	Desc   bool
}

// IndexInfo is the negotiation object passed to BestIndex: the input
// half describes the query (constraints in positional order, order-by
// terms, used columns), the setters record the plan. Setter writes go
// straight through to the host structure, so fields never touched keep
// the host's prefilled defaults.
type IndexInfo struct {
	tls     *libc.TLS
	ptr     uintptr
	version int32
}

func (ii *IndexInfo) c() *sqlite3.Sqlite3_index_info {
	return (*sqlite3.Sqlite3_index_info)(unsafe.Pointer(ii.ptr))
}

func (ii *IndexInfo) constraint(i int) *sqlite3.Sqlite3_index_constraint {
	if i < 0 || i >= ii.ConstraintCount() {
		panic(fmt.Sprintf("constraint index %d out of range [0, %d)", i, ii.ConstraintCount()))
	}

	return (*sqlite3.Sqlite3_index_constraint)(unsafe.Pointer(
		ii.c().FaConstraint + uintptr(i)*unsafe.Sizeof(sqlite3.Sqlite3_index_constraint{})))
}

func (ii *IndexInfo) usage(i int) *sqlite3.Sqlite3_index_constraint_usage {
	if i < 0 || i >= ii.ConstraintCount() {
		panic(fmt.Sprintf("constraint index %d out of range [0, %d)", i, ii.ConstraintCount()))
	}

	return (*sqlite3.Sqlite3_index_constraint_usage)(unsafe.Pointer(
		ii.c().FaConstraintUsage + uintptr(i)*unsafe.Sizeof(sqlite3.Sqlite3_index_constraint_usage{})))
}

// ConstraintCount reports the number of WHERE terms offered.
func (ii *IndexInfo) ConstraintCount() int { return int(ii.c().FnConstraint) }

// Constraint describes WHERE term i. Positions are stable: the same i
// addresses the same term in every accessor and setter.
func (ii *IndexInfo) Constraint(i int) IndexConstraint {
	c := ii.constraint(i)
	return IndexConstraint{
		Column: c.FiColumn,
		Op:     IndexConstraintOp(c.Fop),
		Usable: c.Fusable != 0,
	}
}

// OrderByCount reports the number of ORDER BY terms.
func (ii *IndexInfo) OrderByCount() int { return int(ii.c().FnOrderBy) }

// OrderBy describes ORDER BY term i.
func (ii *IndexInfo) OrderBy(i int) IndexOrderBy {
	if i < 0 || i >= ii.OrderByCount() {
		panic(fmt.Sprintf("order-by index %d out of range [0, %d)", i, ii.OrderByCount()))
	}

	o := (*sqlite3.Sqlite3_index_orderby)(unsafe.Pointer(
		ii.c().FaOrderBy + uintptr(i)*unsafe.Sizeof(sqlite3.Sqlite3_index_orderby{})))
	return IndexOrderBy{Column: o.FiColumn, Desc: o.Fdesc != 0}
}

// ColumnsUsed is a bitmask of table columns the statement may read;
// bit 63 covers columns 63 and above.
func (ii *IndexInfo) ColumnsUsed() uint64 { return uint64(ii.c().FcolUsed) }

// Distinct reports how much ordering the query needs. Before SQLite
// 3.38.0 the interface does not exist and the strictest mode is
// assumed.
//
// int sqlite3_vtab_distinct(sqlite3_index_info*);
func (ii *IndexInfo) Distinct() DistinctMode {
	if ii.version < 3038000 {
		return DistinctOrdered
	}

	return DistinctMode(sqlite3.Xsqlite3_vtab_distinct(ii.tls, ii.ptr))
}

// Collation reports the collating sequence for constraint i. Requires
// SQLite 3.22.0.
//
// const char *sqlite3_vtab_collation(sqlite3_index_info*, int);
func (ii *IndexInfo) Collation(i int) (string, error) {
	if ii.version < 3022000 {
		return "", &VersionError{Needed: 3022000, Got: ii.version}
	}
	if i < 0 || i >= ii.ConstraintCount() {
		return "", &ArgumentError{Msg: fmt.Sprintf("constraint index %d out of range", i)}
	}

	p := sqlite3.Xsqlite3_vtab_collation(ii.tls, ii.ptr, int32(i))
	if p == 0 {
		return "", nil
	}

	return libc.GoString(p), nil
}

// RHSValue reports the right-hand side of constraint i when it is a
// known literal. SQLITE_NOTFOUND means the value is not available at
// plan time. Requires SQLite 3.38.0.
//
// int sqlite3_vtab_rhs_value(sqlite3_index_info*, int, sqlite3_value**);
func (ii *IndexInfo) RHSValue(i int) (Value, error) {
	if ii.version < 3038000 {
		return Value{}, &VersionError{Needed: 3038000, Got: ii.version}
	}
	if i < 0 || i >= ii.ConstraintCount() {
		return Value{}, &ArgumentError{Msg: fmt.Sprintf("constraint index %d out of range", i)}
	}

	pp, err := malloc(ii.tls, int32(ptrSize))
	if err != nil {
		return Value{}, err
	}

	defer sqlite3.Xsqlite3_free(ii.tls, pp)

	if rc := sqlite3.Xsqlite3_vtab_rhs_value(ii.tls, ii.ptr, int32(i), pp); rc != sqlite3.SQLITE_OK {
		return Value{}, &HostError{Code: rc}
	}

	return copyValue(borrowedValue(ii.tls, readPtr(pp))), nil
}

// SetValueListWanted asks the host to hand the whole right-hand side
// of an IN constraint to a single Filter call, so the cursor can batch
// it through Value.List. It reports whether the host agreed. Requires
// SQLite 3.38.0.
//
// int sqlite3_vtab_in(sqlite3_index_info*, int, int);
func (ii *IndexInfo) SetValueListWanted(i int) bool {
	if ii.version < 3038000 {
		return false
	}
	if i < 0 || i >= ii.ConstraintCount() {
		return false
	}

	return sqlite3.Xsqlite3_vtab_in(ii.tls, ii.ptr, int32(i), 1) != 0
}

// SetArgvIndex routes the value of constraint i into argv[n-1] of the
// Filter call. Zero (the default) leaves the constraint to the host's
// bytecode.
func (ii *IndexInfo) SetArgvIndex(i int, n int32) {
	ii.usage(i).FargvIndex = n
}

// SetOmit promises the host that the cursor fully enforces constraint
// i, so the bytecode double-check can be skipped.
func (ii *IndexInfo) SetOmit(i int, omit bool) {
	var v uint8
	if omit {
		v = 1
	}
	ii.usage(i).Fomit = v
}

// SetIndexID records the chosen plan; it reaches Filter verbatim. The
// string part must not contain NUL.
func (ii *IndexInfo) SetIndexID(id IndexID) error {
	c := ii.c()
	c.FidxNum = id.Num
	if c.FneedToFreeIdxStr != 0 && c.FidxStr != 0 {
		sqlite3.Xsqlite3_free(ii.tls, c.FidxStr)
		c.FidxStr = 0
		c.FneedToFreeIdxStr = 0
	}
	if id.Str != "" {
		p, err := sqliteCString(ii.tls, id.Str)
		if err != nil {
			return err
		}

		c.FidxStr = p
		c.FneedToFreeIdxStr = 1
	}
	return nil
}

// SetEstimatedCost records the estimated cost of the plan.
func (ii *IndexInfo) SetEstimatedCost(cost float64) {
	ii.c().FestimatedCost = cost
}

// SetEstimatedRows records the expected number of rows. Ignored below
// SQLite 3.8.2, where the field does not exist.
func (ii *IndexInfo) SetEstimatedRows(rows int64) {
	if ii.version < 3008002 {
		return
	}

	ii.c().FestimatedRows = rows
}

// SetScanFlags sets SQLITE_INDEX_SCAN_* flags (unique scans). Ignored
// below SQLite 3.9.0.
func (ii *IndexInfo) SetScanFlags(flags int32) {
	if ii.version < 3009000 {
		return
	}

	ii.c().FidxFlags = flags
}

// SetOrderByConsumed promises that the scan already delivers rows in
// the order (or distinctness) the query needs.
func (ii *IndexInfo) SetOrderByConsumed(consumed bool) {
	var v int32
	if consumed {
		v = 1
	}
	ii.c().ForderByConsumed = v
}
