// Copyright 2023 The Sqlite Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite3ext

import (
	"database/sql/driver"
	"sync"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"
)

// VTab is a connected virtual table instance. Optional capabilities
// are expressed by also implementing DestroyVTab, WritableVTab,
// TransactionVTab, SavepointVTab, RenameVTab or FindFunctionVTab; the
// host probes capabilities by null pointers in the module table, and
// RegisterModule fills exactly the slots the Go type's method set
// covers.
type VTab interface {
	// BestIndex negotiates a query plan. It may be called several
	// times per statement with different inputs.
	BestIndex(info *IndexInfo) error
	// Open creates a new cursor. Several cursors may be open at once.
	Open() (VTabCursor, error)
	// Disconnect releases the instance. It is called exactly once.
	Disconnect() error
}

// DestroyVTab is a VTab with distinct DROP TABLE handling. Without it
// a drop falls back to Disconnect.
type DestroyVTab interface {
	VTab
	Destroy() error
}

// WritableVTab is a VTab supporting INSERT, UPDATE and DELETE.
type WritableVTab interface {
	VTab

	// Insert adds a row. args[0] is the requested rowid (NULL to let
	// the table assign one); args[1:] are the column values in
	// declaration order. The assigned rowid is returned.
	Insert(args []Value, on ConflictMode) (int64, error)
	// Update rewrites the row identified by rowid. args[0] is the new
	// rowid; args[1:] are the column values. A column the statement
	// does not modify reports NoChange.
	Update(rowid Value, args []Value, on ConflictMode) error
	// Delete removes the row identified by rowid.
	Delete(rowid Value) error
}

// TransactionVTab is a VTab participating in transactions.
type TransactionVTab interface {
	VTab
	Begin() error
	Sync() error
	Commit() error
	Rollback() error
}

// SavepointVTab is a TransactionVTab supporting savepoints.
type SavepointVTab interface {
	TransactionVTab
	Savepoint(n int) error
	Release(n int) error
	RollbackTo(n int) error
}

// RenameVTab is a VTab supporting ALTER TABLE RENAME.
type RenameVTab interface {
	VTab
	Rename(name string) error
}

// FindFunctionVTab lets a table overload SQL functions applied to its
// columns. Returning an op at or above IndexConstraintFunction
// additionally makes the function usable as a BestIndex constraint
// under that op.
type FindFunctionVTab interface {
	VTab
	FindFunction(nArg int, name string) (ScalarFunction, IndexConstraintOp, bool)
}

// VTabCursor scans a virtual table.
type VTabCursor interface {
	// Filter restarts the scan with the plan BestIndex chose. The id
	// arrives exactly as SetIndexID stored it; argv holds the
	// constraint values routed via SetArgvIndex, in argv-index order.
	// Filter may be called again on a running cursor.
	Filter(id IndexID, argv []Value) error
	Next() error
	EOF() bool
	Column(ctx *ColumnContext, i int) (driver.Value, error)
	RowID() (int64, error)
	// Close releases the cursor. It is called exactly once.
	Close() error
}

// ConflictMode is the conflict resolution policy of the statement
// driving a write (sqlite3_vtab_on_conflict).
type ConflictMode int32

const (
	ConflictRollback = ConflictMode(sqlite3.SQLITE_ROLLBACK)
	ConflictIgnore   = ConflictMode(sqlite3.SQLITE_IGNORE)
	ConflictFail     = ConflictMode(sqlite3.SQLITE_FAIL)
	ConflictAbort    = ConflictMode(sqlite3.SQLITE_ABORT)
	ConflictReplace  = ConflictMode(sqlite3.SQLITE_REPLACE)
)

// VTabConfig is returned from Connect/Create alongside the instance.
type VTabConfig struct {
	// Declaration is the CREATE TABLE statement describing the
	// table's columns. Mandatory.
	Declaration string
	// ConstraintSupport declares that update methods enforce
	// constraints themselves and honor the statement's ConflictMode.
	ConstraintSupport bool
	// DirectOnly keeps the table out of triggers and views.
	DirectOnly bool
	// Innocuous marks the table safe for untrusted schemas.
	Innocuous bool
}

// Module is a virtual table module: constructors plus module-wide
// flags. Connect is mandatory. With a nil Create the module is
// eponymous (the table exists under the module name without CREATE
// VIRTUAL TABLE, and CREATE VIRTUAL TABLE connects rather than
// creates); EponymousOnly additionally forbids CREATE VIRTUAL TABLE.
type Module[T VTab] struct {
	Connect func(c *Conn, args []string) (T, *VTabConfig, error)
	Create  func(c *Conn, args []string) (T, *VTabConfig, error)

	EponymousOnly bool
	// ShadowNames lists the suffixes of the module's shadow tables
	// ("data", "idx", ...), protected in defensive mode.
	ShadowNames []string
}

type connectFunc func(c *Conn, args []string) (*vtabState, *VTabConfig, error)

type modDef struct {
	connect connectFunc
	create  connectFunc
}

var xmodules = struct {
	sync.RWMutex
	m map[uintptr]*modDef
}{m: map[uintptr]*modDef{}}

// vtabState holds a connected instance with its capability views
// resolved once at connect time.
type vtabState struct {
	vtab    VTab
	destroy DestroyVTab
	write   WritableVTab
	txn     TransactionVTab
	sav     SavepointVTab
	rename  RenameVTab
	find    FindFunctionVTab

	db      uintptr
	version int32
	funcIDs []uintptr // FindFunction closures owned by this instance
}

func newVTabState(v VTab, db uintptr, version int32) *vtabState {
	st := &vtabState{vtab: v, db: db, version: version}
	st.destroy, _ = v.(DestroyVTab)
	st.write, _ = v.(WritableVTab)
	st.txn, _ = v.(TransactionVTab)
	st.sav, _ = v.(SavepointVTab)
	st.rename, _ = v.(RenameVTab)
	st.find, _ = v.(FindFunctionVTab)
	return st
}

var xvtables = struct {
	sync.RWMutex
	m    map[uintptr]*vtabState
	next uintptr
}{m: map[uintptr]*vtabState{}, next: 1}

var xcursors = struct {
	sync.RWMutex
	m    map[uintptr]VTabCursor
	next uintptr
}{m: map[uintptr]VTabCursor{}, next: 1}

// shadowNames is the union over all registered modules; xShadowName
// carries no module identity, so one shared trampoline consults one
// shared set.
var shadowNames = struct {
	sync.RWMutex
	m map[string]bool
}{m: map[string]bool{}}

type vtabWrapper struct {
	base sqlite3.Sqlite3_vtab
	id   uintptr
}

type cursorWrapper struct {
	base sqlite3.Sqlite3_vtab_cursor
	id   uintptr
}

// RegisterModule registers a virtual table module under name on the
// connection. The module's capability surface is derived from T's
// method set at registration time; only those callbacks are exposed.
//
// int sqlite3_create_module_v2(sqlite3*, const char*, const sqlite3_module*, void*, void(*)(void*));
func RegisterModule[T VTab](c *Conn, name string, m Module[T]) error {
	if m.Connect == nil {
		return &ArgumentError{Msg: "module has no Connect constructor"}
	}
	if m.EponymousOnly {
		if m.Create != nil {
			return &ArgumentError{Msg: "eponymous-only module cannot have a Create constructor"}
		}
		if err := c.CheckVersion(3009000); err != nil {
			return err
		}
	}

	wrap := func(fn func(*Conn, []string) (T, *VTabConfig, error)) connectFunc {
		if fn == nil {
			return nil
		}
		return func(conn *Conn, args []string) (*vtabState, *VTabConfig, error) {
			t, cfg, err := fn(conn, args)
			if err != nil {
				return nil, nil, err
			}

			return newVTabState(any(t).(VTab), conn.db, conn.version), cfg, nil
		}
	}

	var probe T
	var (
		_, canWrite  = any(probe).(WritableVTab)
		_, canTxn    = any(probe).(TransactionVTab)
		_, canSav    = any(probe).(SavepointVTab)
		_, canRename = any(probe).(RenameVTab)
		_, canFind   = any(probe).(FindFunctionVTab)
	)

	zName, err := cString(c.tls, name)
	if err != nil {
		return err
	}

	defer libc.Xfree(c.tls, zName)

	cmod, err := malloc(c.tls, int32(unsafe.Sizeof(sqlite3.Sqlite3_module{})))
	if err != nil {
		return err
	}

	libc.Xmemset(c.tls, cmod, 0, types.Size_t(unsafe.Sizeof(sqlite3.Sqlite3_module{})))
	mod := (*sqlite3.Sqlite3_module)(unsafe.Pointer(cmod))
	mod.FiVersion = 3
	mod.FxConnect = cFuncPointer(vtabConnectTramp)
	switch {
	case m.Create != nil:
		mod.FxCreate = cFuncPointer(vtabCreateTramp)
	case m.EponymousOnly:
		// A null xCreate makes the module eponymous-only.
	default:
		// xCreate == xConnect makes the module eponymous.
		mod.FxCreate = mod.FxConnect
	}
	mod.FxBestIndex = cFuncPointer(vtabBestIndexTramp)
	mod.FxDisconnect = cFuncPointer(vtabDisconnectTramp)
	mod.FxDestroy = cFuncPointer(vtabDestroyTramp)
	mod.FxOpen = cFuncPointer(vtabOpenTramp)
	mod.FxClose = cFuncPointer(vtabCloseTramp)
	mod.FxFilter = cFuncPointer(vtabFilterTramp)
	mod.FxNext = cFuncPointer(vtabNextTramp)
	mod.FxEof = cFuncPointer(vtabEofTramp)
	mod.FxColumn = cFuncPointer(vtabColumnTramp)
	mod.FxRowid = cFuncPointer(vtabRowidTramp)
	if canWrite {
		mod.FxUpdate = cFuncPointer(vtabUpdateTramp)
	}
	if canTxn {
		mod.FxBegin = cFuncPointer(vtabBeginTramp)
		mod.FxSync = cFuncPointer(vtabSyncTramp)
		mod.FxCommit = cFuncPointer(vtabCommitTramp)
		mod.FxRollback = cFuncPointer(vtabRollbackTramp)
	}
	if canSav {
		mod.FxSavepoint = cFuncPointer(vtabSavepointTramp)
		mod.FxRelease = cFuncPointer(vtabReleaseTramp)
		mod.FxRollbackTo = cFuncPointer(vtabRollbackToTramp)
	}
	if canRename {
		mod.FxRename = cFuncPointer(vtabRenameTramp)
	}
	if canFind {
		mod.FxFindFunction = cFuncPointer(vtabFindFunctionTramp)
	}
	if len(m.ShadowNames) > 0 && c.version >= 3026000 {
		mod.FxShadowName = cFuncPointer(vtabShadowNameTramp)
		shadowNames.Lock()
		for _, s := range m.ShadowNames {
			shadowNames.m[s] = true
		}
		shadowNames.Unlock()
	}

	xmodules.Lock()
	xmodules.m[cmod] = &modDef{connect: wrap(m.Connect), create: wrap(m.Create)}
	xmodules.Unlock()

	// On failure the host invokes the destructor on pClientData
	// itself, which unregisters and frees cmod.
	rc := sqlite3.Xsqlite3_create_module_v2(c.tls, c.db, zName, cmod, cmod, cFuncPointer(moduleDestroyTramp))
	if rc != sqlite3.SQLITE_OK {
		return c.error(rc)
	}

	return nil
}

// DropModule removes a module registration, making its name unusable
// for new tables.
func DropModule(c *Conn, name string) error {
	zName, err := cString(c.tls, name)
	if err != nil {
		return err
	}

	defer libc.Xfree(c.tls, zName)

	return c.error(sqlite3.Xsqlite3_create_module_v2(c.tls, c.db, zName, 0, 0, 0))
}

func moduleDestroyTramp(tls *libc.TLS, pAux uintptr) {
	xmodules.Lock()
	delete(xmodules.m, pAux)
	xmodules.Unlock()
	sqlite3.Xsqlite3_free(tls, pAux)
}

func vtabFor(pVTab uintptr) *vtabState {
	id := (*vtabWrapper)(unsafe.Pointer(pVTab)).id
	xvtables.RLock()

	defer xvtables.RUnlock()

	return xvtables.m[id]
}

func cursorFor(pCursor uintptr) VTabCursor {
	id := (*cursorWrapper)(unsafe.Pointer(pCursor)).id
	xcursors.RLock()

	defer xcursors.RUnlock()

	return xcursors.m[id]
}

// setVTabError attaches err's message to the instance's zErrMsg slot
// so the host can surface it with the failing statement.
func setVTabError(tls *libc.TLS, pVTab uintptr, err error) {
	if pVTab == 0 || err == nil {
		return
	}

	base := &(*vtabWrapper)(unsafe.Pointer(pVTab)).base
	if base.FzErrMsg != 0 {
		sqlite3.Xsqlite3_free(tls, base.FzErrMsg)
		base.FzErrMsg = 0
	}
	if p, e := sqliteCString(tls, err.Error()); e == nil {
		base.FzErrMsg = p
	}
}

// setCreateError reports a constructor failure through xCreate's
// pzErr out-parameter.
func setCreateError(tls *libc.TLS, pzErr uintptr, err error) {
	if pzErr == 0 || err == nil {
		return
	}

	if p, e := sqliteCString(tls, err.Error()); e == nil {
		if old := readPtr(pzErr); old != 0 {
			sqlite3.Xsqlite3_free(tls, old)
		}
		writePtr(pzErr, p)
	}
}

// int (*xCreate)(sqlite3*, void *pAux, int argc, const char *const*argv, sqlite3_vtab **ppVTab, char**);
func vtabCreateTramp(tls *libc.TLS, db, pAux uintptr, argc int32, argv, ppVTab, pzErr uintptr) (rc int32) {
	defer guard(&rc)

	xmodules.RLock()
	mod := xmodules.m[pAux]
	xmodules.RUnlock()
	if mod == nil || mod.create == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return vtabConstruct(tls, db, mod.create, argc, argv, ppVTab, pzErr)
}

// int (*xConnect)(sqlite3*, void *pAux, int argc, const char *const*argv, sqlite3_vtab **ppVTab, char**);
func vtabConnectTramp(tls *libc.TLS, db, pAux uintptr, argc int32, argv, ppVTab, pzErr uintptr) (rc int32) {
	defer guard(&rc)

	xmodules.RLock()
	mod := xmodules.m[pAux]
	xmodules.RUnlock()
	if mod == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return vtabConstruct(tls, db, mod.connect, argc, argv, ppVTab, pzErr)
}

// vtabConstruct is the shared create/connect path: run the
// constructor, apply the instance configuration, declare the schema
// and hand the host a wrapper. A failure on any step unwinds the
// instance so that exactly one of Disconnect or a constructor error
// happens.
func vtabConstruct(tls *libc.TLS, db uintptr, construct connectFunc, argc int32, argv, ppVTab, pzErr uintptr) int32 {
	args := make([]string, argc)
	for i := int32(0); i < argc; i++ {
		args[i] = libc.GoString(readPtr(argv + uintptr(i)*uintptr(ptrSize)))
	}

	c := attachConn(tls, db)
	st, cfg, err := construct(c, args)
	if err != nil {
		setCreateError(tls, pzErr, err)
		return errCode(err)
	}

	if cfg == nil || cfg.Declaration == "" {
		st.vtab.Disconnect()
		err := &ArgumentError{Msg: "virtual table constructor returned no schema declaration"}
		setCreateError(tls, pzErr, err)
		return errCode(err)
	}

	if cfg.ConstraintSupport {
		va := libc.NewVaList(int32(1))
		rc := sqlite3.Xsqlite3_vtab_config(tls, db, sqlite3.SQLITE_VTAB_CONSTRAINT_SUPPORT, va)
		libc.Xfree(tls, va)
		if rc != sqlite3.SQLITE_OK {
			st.vtab.Disconnect()
			return rc
		}
	}
	if cfg.DirectOnly && c.version >= 3031000 {
		if rc := sqlite3.Xsqlite3_vtab_config(tls, db, sqlite3.SQLITE_VTAB_DIRECTONLY, 0); rc != sqlite3.SQLITE_OK {
			st.vtab.Disconnect()
			return rc
		}
	}
	if cfg.Innocuous && c.version >= 3031000 {
		if rc := sqlite3.Xsqlite3_vtab_config(tls, db, sqlite3.SQLITE_VTAB_INNOCUOUS, 0); rc != sqlite3.SQLITE_OK {
			st.vtab.Disconnect()
			return rc
		}
	}

	zDecl, err := cString(tls, cfg.Declaration)
	if err != nil {
		st.vtab.Disconnect()
		setCreateError(tls, pzErr, err)
		return errCode(err)
	}

	rc := sqlite3.Xsqlite3_declare_vtab(tls, db, zDecl)
	libc.Xfree(tls, zDecl)
	if rc != sqlite3.SQLITE_OK {
		st.vtab.Disconnect()
		return rc
	}

	size := int32(unsafe.Sizeof(vtabWrapper{}))
	pvtab := sqlite3.Xsqlite3_malloc(tls, size)
	if pvtab == 0 {
		st.vtab.Disconnect()
		return sqlite3.SQLITE_NOMEM
	}

	libc.Xmemset(tls, pvtab, 0, types.Size_t(size))
	xvtables.Lock()
	id := xvtables.next
	xvtables.next++
	xvtables.m[id] = st
	xvtables.Unlock()
	(*vtabWrapper)(unsafe.Pointer(pvtab)).id = id
	writePtr(ppVTab, pvtab)
	return sqlite3.SQLITE_OK
}

// vtabRelease unregisters the instance and frees its wrapper; the
// caller already holds the only reference. Runs for exactly one of
// xDisconnect or xDestroy per instance.
func vtabRelease(tls *libc.TLS, pVTab uintptr) *vtabState {
	id := (*vtabWrapper)(unsafe.Pointer(pVTab)).id
	sqlite3.Xsqlite3_free(tls, pVTab)

	xvtables.Lock()
	st := xvtables.m[id]
	delete(xvtables.m, id)
	xvtables.Unlock()
	if st != nil {
		for _, h := range st.funcIDs {
			funcDestroyTramp(tls, h)
		}
	}
	return st
}

// int (*xDisconnect)(sqlite3_vtab *pVTab);
func vtabDisconnectTramp(tls *libc.TLS, pVTab uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabRelease(tls, pVTab)
	if st == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(st.vtab.Disconnect())
}

// int (*xDestroy)(sqlite3_vtab *pVTab);
func vtabDestroyTramp(tls *libc.TLS, pVTab uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabRelease(tls, pVTab)
	if st == nil {
		return sqlite3.SQLITE_INTERNAL
	}
	if st.destroy != nil {
		return errCode(st.destroy.Destroy())
	}

	return errCode(st.vtab.Disconnect())
}

// int (*xBestIndex)(sqlite3_vtab *pVTab, sqlite3_index_info*);
func vtabBestIndexTramp(tls *libc.TLS, pVTab, infoPtr uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	info := &IndexInfo{tls: tls, ptr: infoPtr, version: st.version}
	if err := st.vtab.BestIndex(info); err != nil {
		setVTabError(tls, pVTab, err)
		return errCode(err)
	}

	return sqlite3.SQLITE_OK
}

// int (*xOpen)(sqlite3_vtab *pVTab, sqlite3_vtab_cursor **ppCursor);
func vtabOpenTramp(tls *libc.TLS, pVTab, ppCursor uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	cursor, err := st.vtab.Open()
	if err != nil {
		setVTabError(tls, pVTab, err)
		return errCode(err)
	}

	size := int32(unsafe.Sizeof(cursorWrapper{}))
	pcursor := sqlite3.Xsqlite3_malloc(tls, size)
	if pcursor == 0 {
		cursor.Close()
		return sqlite3.SQLITE_NOMEM
	}

	libc.Xmemset(tls, pcursor, 0, types.Size_t(size))
	xcursors.Lock()
	id := xcursors.next
	xcursors.next++
	xcursors.m[id] = cursor
	xcursors.Unlock()
	(*cursorWrapper)(unsafe.Pointer(pcursor)).id = id
	writePtr(ppCursor, pcursor)
	return sqlite3.SQLITE_OK
}

// int (*xClose)(sqlite3_vtab_cursor*);
func vtabCloseTramp(tls *libc.TLS, pCursor uintptr) (rc int32) {
	defer guard(&rc)

	id := (*cursorWrapper)(unsafe.Pointer(pCursor)).id
	sqlite3.Xsqlite3_free(tls, pCursor)

	xcursors.Lock()
	cursor := xcursors.m[id]
	delete(xcursors.m, id)
	xcursors.Unlock()
	if cursor == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(cursor.Close())
}

// int (*xFilter)(sqlite3_vtab_cursor*, int idxNum, const char *idxStr, int argc, sqlite3_value **argv);
func vtabFilterTramp(tls *libc.TLS, pCursor uintptr, idxNum int32, idxStr uintptr, argc int32, argv uintptr) (rc int32) {
	defer guard(&rc)

	cursor := cursorFor(pCursor)
	if cursor == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	id := IndexID{Num: idxNum}
	if idxStr != 0 {
		id.Str = libc.GoString(idxStr)
	}
	args := make([]Value, argc)
	for i := int32(0); i < argc; i++ {
		args[i] = borrowedValue(tls, readPtr(argv+uintptr(i)*uintptr(ptrSize)))
	}

	if err := cursor.Filter(id, args); err != nil {
		setVTabError(tls, (*cursorWrapper)(unsafe.Pointer(pCursor)).base.FpVtab, err)
		return errCode(err)
	}

	return sqlite3.SQLITE_OK
}

// int (*xNext)(sqlite3_vtab_cursor*);
func vtabNextTramp(tls *libc.TLS, pCursor uintptr) (rc int32) {
	defer guard(&rc)

	cursor := cursorFor(pCursor)
	if cursor == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	if err := cursor.Next(); err != nil {
		setVTabError(tls, (*cursorWrapper)(unsafe.Pointer(pCursor)).base.FpVtab, err)
		return errCode(err)
	}

	return sqlite3.SQLITE_OK
}

// int (*xEof)(sqlite3_vtab_cursor*);
func vtabEofTramp(tls *libc.TLS, pCursor uintptr) (rc int32) {
	defer guard(&rc)

	cursor := cursorFor(pCursor)
	if cursor == nil || cursor.EOF() {
		return 1
	}

	return 0
}

// int (*xColumn)(sqlite3_vtab_cursor*, sqlite3_context*, int);
func vtabColumnTramp(tls *libc.TLS, pCursor, ctx uintptr, n int32) (rc int32) {
	defer guard(&rc)

	cursor := cursorFor(pCursor)
	if cursor == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	v, err := cursor.Column(&ColumnContext{tls: tls, ptr: ctx}, int(n))
	if err != nil {
		resultError(tls, ctx, err)
		return errCode(err)
	}

	if err := resultValue(tls, ctx, v); err != nil {
		resultError(tls, ctx, err)
		return errCode(err)
	}

	return sqlite3.SQLITE_OK
}

// int (*xRowid)(sqlite3_vtab_cursor*, sqlite3_int64 *pRowid);
func vtabRowidTramp(tls *libc.TLS, pCursor, pRowid uintptr) (rc int32) {
	defer guard(&rc)

	cursor := cursorFor(pCursor)
	if cursor == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	id, err := cursor.RowID()
	if err != nil {
		setVTabError(tls, (*cursorWrapper)(unsafe.Pointer(pCursor)).base.FpVtab, err)
		return errCode(err)
	}

	writeI64(pRowid, id)
	return sqlite3.SQLITE_OK
}

// int (*xUpdate)(sqlite3_vtab*, int, sqlite3_value**, sqlite3_int64*);
//
// The argc/argv encoding: argc==1 is DELETE of rowid argv[0];
// argv[0]==NULL is INSERT with argv[1] the requested rowid and
// argv[2:] the columns; otherwise UPDATE of rowid argv[0] with
// argv[1] the new rowid and argv[2:] the columns.
func vtabUpdateTramp(tls *libc.TLS, pVTab uintptr, argc int32, argv, pRowid uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.write == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	args := make([]Value, argc)
	for i := int32(0); i < argc; i++ {
		args[i] = borrowedValue(tls, readPtr(argv+uintptr(i)*uintptr(ptrSize)))
	}
	mode := ConflictMode(sqlite3.Xsqlite3_vtab_on_conflict(tls, st.db))

	var err error
	switch {
	case argc == 1:
		err = st.write.Delete(args[0])
	case args[0].IsNull():
		var rowid int64
		if rowid, err = st.write.Insert(args[1:], mode); err == nil {
			writeI64(pRowid, rowid)
		}
	default:
		err = st.write.Update(args[0], args[1:], mode)
	}
	if err != nil {
		setVTabError(tls, pVTab, err)
		return errCode(err)
	}

	return sqlite3.SQLITE_OK
}

// int (*xBegin)(sqlite3_vtab *pVTab);
func vtabBeginTramp(tls *libc.TLS, pVTab uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.txn == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(st.txn.Begin())
}

// int (*xSync)(sqlite3_vtab *pVTab);
func vtabSyncTramp(tls *libc.TLS, pVTab uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.txn == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(st.txn.Sync())
}

// int (*xCommit)(sqlite3_vtab *pVTab);
func vtabCommitTramp(tls *libc.TLS, pVTab uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.txn == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(st.txn.Commit())
}

// int (*xRollback)(sqlite3_vtab *pVTab);
func vtabRollbackTramp(tls *libc.TLS, pVTab uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.txn == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(st.txn.Rollback())
}

// int (*xSavepoint)(sqlite3_vtab *pVTab, int);
func vtabSavepointTramp(tls *libc.TLS, pVTab uintptr, n int32) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.sav == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(st.sav.Savepoint(int(n)))
}

// int (*xRelease)(sqlite3_vtab *pVTab, int);
func vtabReleaseTramp(tls *libc.TLS, pVTab uintptr, n int32) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.sav == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(st.sav.Release(int(n)))
}

// int (*xRollbackTo)(sqlite3_vtab *pVTab, int);
func vtabRollbackToTramp(tls *libc.TLS, pVTab uintptr, n int32) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.sav == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	return errCode(st.sav.RollbackTo(int(n)))
}

// int (*xRename)(sqlite3_vtab *pVTab, const char *zNew);
func vtabRenameTramp(tls *libc.TLS, pVTab, zNew uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.rename == nil {
		return sqlite3.SQLITE_INTERNAL
	}

	if err := st.rename.Rename(libc.GoString(zNew)); err != nil {
		setVTabError(tls, pVTab, err)
		return errCode(err)
	}

	return sqlite3.SQLITE_OK
}

// int (*xFindFunction)(sqlite3_vtab *pVtab, int nArg, const char *zName,
//	void (**pxFunc)(sqlite3_context*,int,sqlite3_value**), void **ppArg);
//
// Returning 0 declines the overload; 1 overloads without a constraint
// op; a value at or above SQLITE_INDEX_CONSTRAINT_FUNCTION overloads
// and makes the op available to xBestIndex.
func vtabFindFunctionTramp(tls *libc.TLS, pVTab uintptr, nArg int32, zName, pxFunc, ppArg uintptr) (rc int32) {
	defer guard(&rc)

	st := vtabFor(pVTab)
	if st == nil || st.find == nil {
		return 0
	}

	fn, op, ok := st.find.FindFunction(int(nArg), libc.GoString(zName))
	if !ok || fn == nil {
		return 0
	}

	h := boxFunc(&funcDef{scalar: fn})
	xvtables.Lock()
	st.funcIDs = append(st.funcIDs, h)
	xvtables.Unlock()
	writePtr(pxFunc, cFuncPointer(funcTramp))
	writePtr(ppArg, h)
	if op >= IndexConstraintFunction {
		return int32(op)
	}

	return 1
}

// int (*xShadowName)(const char*);
func vtabShadowNameTramp(tls *libc.TLS, zName uintptr) (rc int32) {
	defer guard(&rc)

	shadowNames.RLock()

	defer shadowNames.RUnlock()

	if shadowNames.m[libc.GoString(zName)] {
		return 1
	}

	return 0
}
