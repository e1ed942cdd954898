package mvcc

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/leftmike/soko/storage/data"
	"github.com/leftmike/soko/storage/util"
	"github.com/leftmike/soko/storage/xact"
)

type IsolationLevel int

const (
	ReadCommitted  IsolationLevel = 0
	RepeatableRead IsolationLevel = 1
)

var (
	// ErrConcurrentUpdate is surfaced when a delete deadlocks or would skip a
	// version; the transaction has already been aborted and the caller should
	// retry with a new one.
	ErrConcurrentUpdate = errors.New("mvcc: concurrent update")

	errNullEntry = errors.New("mvcc: entry slot is invalid")
)

type transaction struct {
	xid         uint64
	level       IsolationLevel
	snapshot    map[uint64]struct{}
	err         error
	autoAborted bool
}

func (t *transaction) inSnapshot(xid uint64) bool {
	if xid == xact.Super {
		return false
	}
	_, ok := t.snapshot[xid]
	return ok
}

// VersionManager implements MVCC record operations on top of the data manager.
// It registers live transactions, takes repeatable-read snapshots, caches
// Entries by UID, and uses the lock table to order conflicting deletes.
type VersionManager struct {
	tm *xact.Manager
	dm *data.Manager
	lt util.LockTable

	mutex   sync.Mutex
	active  map[uint64]*transaction
	entries util.Cache
}

func NewVersionManager(tm *xact.Manager, dm *data.Manager) *VersionManager {
	vm := &VersionManager{
		tm: tm,
		dm: dm,
		active: map[uint64]*transaction{
			xact.Super: {xid: xact.Super, level: ReadCommitted},
		},
	}
	vm.entries.Load = vm.loadEntry
	vm.entries.Evict = vm.evictEntry
	return vm
}

func (vm *VersionManager) loadEntry(uid uint64) (interface{}, error) {
	it, err := vm.dm.Read(uid)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, errNullEntry
	}
	return &Entry{vm: vm, uid: uid, it: it}, nil
}

func (vm *VersionManager) evictEntry(val interface{}) {
	e := val.(*Entry)
	e.it.Release()
}

func (vm *VersionManager) getEntry(uid uint64) (*Entry, error) {
	val, err := vm.entries.Get(uid)
	if err != nil {
		return nil, err
	}
	return val.(*Entry), nil
}

func (vm *VersionManager) getTransaction(xid uint64) (*transaction, error) {
	vm.mutex.Lock()
	defer vm.mutex.Unlock()

	t, ok := vm.active[xid]
	if !ok {
		return nil, errors.Errorf("mvcc: transaction %d is not active", xid)
	}
	return t, nil
}

// Begin starts a transaction at the requested isolation level and returns its
// XID. Repeatable-read transactions snapshot the XIDs active right now.
func (vm *VersionManager) Begin(level IsolationLevel) uint64 {
	vm.mutex.Lock()
	defer vm.mutex.Unlock()

	xid := vm.tm.Begin()
	t := &transaction{xid: xid, level: level}
	if level != ReadCommitted {
		t.snapshot = map[uint64]struct{}{}
		for axid := range vm.active {
			if axid != xact.Super {
				t.snapshot[axid] = struct{}{}
			}
		}
	}
	vm.active[xid] = t
	return xid
}

// Read returns a copy of the record at uid if it is visible to xid, or nil if
// there is no visible version there.
func (vm *VersionManager) Read(xid, uid uint64) ([]byte, error) {
	t, err := vm.getTransaction(xid)
	if err != nil {
		return nil, err
	}
	if t.err != nil {
		return nil, t.err
	}

	e, err := vm.getEntry(uid)
	if err == errNullEntry {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer e.release()

	if !visible(vm.tm, t, e) {
		return nil, nil
	}
	return e.Record(), nil
}

// Insert stores record as a new version created by xid and returns its UID.
func (vm *VersionManager) Insert(xid uint64, record []byte) (uint64, error) {
	t, err := vm.getTransaction(xid)
	if err != nil {
		return 0, err
	}
	if t.err != nil {
		return 0, t.err
	}

	return vm.dm.Insert(xid, wrapEntry(xid, record))
}

// Delete marks the version at uid deleted by xid. It returns false when there
// is nothing visible to delete or xid already deleted it. A deadlock or a
// version skip aborts the transaction and fails with ErrConcurrentUpdate.
func (vm *VersionManager) Delete(xid, uid uint64) (bool, error) {
	t, err := vm.getTransaction(xid)
	if err != nil {
		return false, err
	}
	if t.err != nil {
		return false, t.err
	}

	e, err := vm.getEntry(uid)
	if err == errNullEntry {
		return false, nil
	} else if err != nil {
		return false, err
	}
	defer e.release()

	if !visible(vm.tm, t, e) {
		return false, nil
	}

	gate, err := vm.lt.Acquire(xid, uid)
	if err != nil {
		return false, vm.autoAbort(t)
	}
	if gate != nil {
		<-gate
	}

	if e.Xmax() == xid {
		return false, nil
	}
	if versionSkip(vm.tm, t, e) {
		return false, vm.autoAbort(t)
	}

	e.setXmax(xid)
	return true, nil
}

// autoAbort aborts t in place and makes ErrConcurrentUpdate its sticky error.
func (vm *VersionManager) autoAbort(t *transaction) error {
	t.err = ErrConcurrentUpdate
	vm.internAbort(t.xid, true)
	t.autoAborted = true
	return t.err
}

// Commit finishes xid: it is removed from the live set, its locks are handed
// off, and the XID file records it committed. A faulted transaction cannot
// commit; its sticky error is returned instead.
func (vm *VersionManager) Commit(xid uint64) error {
	t, err := vm.getTransaction(xid)
	if err != nil {
		return err
	}
	if t.err != nil {
		return t.err
	}

	vm.mutex.Lock()
	delete(vm.active, xid)
	vm.mutex.Unlock()

	vm.lt.ReleaseAll(xid)
	vm.tm.Commit(xid)
	return nil
}

// Abort rolls xid back. Aborting a transaction that already auto-aborted only
// removes it from the live set.
func (vm *VersionManager) Abort(xid uint64) {
	vm.internAbort(xid, false)
}

func (vm *VersionManager) internAbort(xid uint64, auto bool) {
	vm.mutex.Lock()
	t := vm.active[xid]
	if !auto {
		delete(vm.active, xid)
	}
	vm.mutex.Unlock()

	if t == nil || t.autoAborted {
		return
	}
	vm.lt.ReleaseAll(xid)
	vm.tm.Abort(xid)
}
