package data

import (
	"github.com/pkg/errors"

	"github.com/leftmike/soko/storage/page"
	"github.com/leftmike/soko/storage/util"
	"github.com/leftmike/soko/storage/wal"
	"github.com/leftmike/soko/storage/xact"
)

var (
	ErrDataTooLarge = errors.New("data: record too large for one page")
	ErrDatabaseBusy = errors.New("data: no page with enough free space")
)

// Manager is the data manager: it owns the page cache, the write-ahead log,
// and the free-space index, and caches pinned Items keyed by UID.
type Manager struct {
	tm      *xact.Manager
	pc      *page.Cache
	log     *wal.Log
	items   util.Cache
	pidx    pageIndex
	pageOne *page.Page
}

func newManager(tm *xact.Manager, pc *page.Cache, log *wal.Log) *Manager {
	dm := &Manager{
		tm:  tm,
		pc:  pc,
		log: log,
	}
	dm.items.Load = dm.loadItem
	dm.items.Evict = dm.evictItem
	return dm
}

// Create builds a data manager over fresh files at path, initializing page 1
// with the open marker.
func Create(path string, pages int, tm *xact.Manager) (*Manager, error) {
	pc, err := page.Create(path, pages)
	if err != nil {
		return nil, err
	}
	log, err := wal.Create(path)
	if err != nil {
		return nil, err
	}

	dm := newManager(tm, pc, log)
	pgno := pc.NewPage(page.InitOne())
	if pgno != 1 {
		panic(errors.Errorf("data: new data file starts at page %d", pgno))
	}
	dm.pageOne, err = pc.GetPage(1)
	if err != nil {
		return nil, err
	}
	pc.Flush(dm.pageOne)
	return dm, nil
}

// Open builds a data manager over existing files at path, running crash
// recovery if page 1 shows the previous run did not shut down cleanly.
func Open(path string, pages int, tm *xact.Manager) (*Manager, error) {
	pc, err := page.Open(path, pages)
	if err != nil {
		return nil, err
	}
	log, err := wal.Open(path)
	if err != nil {
		return nil, err
	}

	dm := newManager(tm, pc, log)
	dm.pageOne, err = pc.GetPage(1)
	if err != nil {
		return nil, err
	}
	if !page.CheckMarker(dm.pageOne) {
		runRecovery(tm, log, pc)
	}
	dm.fillPageIndex()
	page.SetOpenMarker(dm.pageOne)
	pc.Flush(dm.pageOne)
	return dm, nil
}

// fillPageIndex visits every ordinary page once and records its free space.
func (dm *Manager) fillPageIndex() {
	count := dm.pc.PageCount()
	for pgno := uint32(2); pgno <= count; pgno += 1 {
		pg, err := dm.pc.GetPage(pgno)
		if err != nil {
			panic(err)
		}
		dm.pidx.add(pgno, page.FreeSpace(pg))
		pg.Release()
	}
}

func (dm *Manager) loadItem(uid uint64) (interface{}, error) {
	pgno, off := SplitUID(uid)
	pg, err := dm.pc.GetPage(pgno)
	if err != nil {
		return nil, err
	}
	return parseItem(dm, pg, off), nil
}

func (dm *Manager) evictItem(val interface{}) {
	it := val.(*Item)
	it.pg.Release()
}

// Read returns the item at uid, or nil if its slot has been invalidated.
func (dm *Manager) Read(uid uint64) (*Item, error) {
	val, err := dm.items.Get(uid)
	if err != nil {
		return nil, err
	}
	it := val.(*Item)
	if !it.Valid() {
		it.Release()
		return nil, nil
	}
	return it, nil
}

// Insert frames data as a slot and appends it to a page with enough free
// space, logging the insert first. It returns the new slot's UID.
func (dm *Manager) Insert(xid uint64, data []byte) (uint64, error) {
	raw := wrapRaw(data)
	if len(raw) > page.MaxFreeSpace {
		return 0, ErrDataTooLarge
	}

	var pi pageInfo
	var ok bool
	for i := 0; i < 5; i += 1 {
		pi, ok = dm.pidx.selectPage(len(raw))
		if ok {
			break
		}
		pgno := dm.pc.NewPage(page.InitData())
		dm.pidx.add(pgno, page.MaxFreeSpace)
	}
	if !ok {
		return 0, ErrDatabaseBusy
	}

	pg, err := dm.pc.GetPage(pi.pgno)
	if err != nil {
		dm.pidx.add(pi.pgno, pi.free)
		return 0, err
	}

	dm.log.Append(appendRecord(xid, pi.pgno, page.FSO(pg), raw))
	off := page.Append(pg, raw)
	free := page.FreeSpace(pg)
	pg.Release()
	dm.pidx.add(pi.pgno, free)

	return MakeUID(pi.pgno, off), nil
}

// logUpdate appends an update record for it on behalf of xid; called by
// Item.After with the item's write lock held.
func (dm *Manager) logUpdate(xid uint64, it *Item) {
	dm.log.Append(writeRecord(xid, it.uid, it.old, it.raw()))
}

func (dm *Manager) releaseItem(it *Item) {
	dm.items.Release(it.uid)
}

// Close shuts the data manager down cleanly: the close marker is copied on
// page 1 before the page cache flushes everything back.
func (dm *Manager) Close() {
	dm.items.Close()
	dm.log.Close()

	page.SetCloseMarker(dm.pageOne)
	dm.pageOne.Release()
	dm.pc.Close()
}
