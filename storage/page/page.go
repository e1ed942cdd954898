package page

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/leftmike/soko/storage/util"
)

const (
	// Size is the fixed page size; page numbers are 1-based and page pgno
	// lives at file offset (pgno-1)*Size.
	Size = 8192

	// MinCachePages is the smallest usable page-cache capacity.
	MinCachePages = 10

	Suffix = ".db"
)

// Page is an in-memory copy of one page of the data file. A dirty page is
// written back when its last reference is released.
type Page struct {
	no    uint32
	data  []byte
	dirty bool
	pc    *Cache
}

func (pg *Page) No() uint32 {
	return pg.no
}

// Data returns the page's backing bytes; callers mutating them must hold
// whatever lock serializes the slot being changed and must mark the page
// dirty.
func (pg *Page) Data() []byte {
	return pg.data
}

func (pg *Page) SetDirty() {
	pg.dirty = true
}

// Release returns the page to its cache.
func (pg *Page) Release() {
	pg.pc.Release(pg)
}

// Cache is a fixed-capacity, reference-counted cache of pages backed by a
// single data file. The cache map and the file are locked separately so that
// page I/O does not block unrelated lookups.
type Cache struct {
	f         *os.File
	fileMutex sync.Mutex
	pages     util.Cache
	pageCount uint32
}

func newCache(f *os.File, pages int, pageCount uint32) *Cache {
	if pages < MinCachePages {
		panic(errors.Errorf("page: cache of %d pages is too small; need at least %d",
			pages, MinCachePages))
	}

	pc := &Cache{
		f:         f,
		pageCount: pageCount,
	}
	pc.pages.Load = pc.load
	pc.pages.Evict = pc.evict
	pc.pages.MaxResources = pages
	return pc
}

// Create makes a new, empty data file at path + Suffix.
func Create(path string, pages int) (*Cache, error) {
	f, err := os.OpenFile(path+Suffix, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "page: create")
	}
	return newCache(f, pages, 0), nil
}

// Open opens an existing data file.
func Open(path string, pages int) (*Cache, error) {
	f, err := os.OpenFile(path+Suffix, os.O_RDWR, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "page: open")
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "page: open")
	}
	return newCache(f, pages, uint32(fi.Size()/Size)), nil
}

func pageOffset(pgno uint32) int64 {
	return int64(pgno-1) * Size
}

func (pc *Cache) load(key uint64) (interface{}, error) {
	pgno := uint32(key)
	data := make([]byte, Size)

	pc.fileMutex.Lock()
	_, err := pc.f.ReadAt(data, pageOffset(pgno))
	pc.fileMutex.Unlock()
	if err != nil {
		panic(errors.Wrapf(err, "page: read page %d", pgno))
	}

	return &Page{no: pgno, data: data, pc: pc}, nil
}

func (pc *Cache) evict(val interface{}) {
	pg := val.(*Page)
	if pg.dirty {
		pc.Flush(pg)
		pg.dirty = false
	}
}

// GetPage returns the page pgno, pinning it in the cache. It fails with
// util.ErrCacheFull when the cache is at capacity and pgno is not resident.
func (pc *Cache) GetPage(pgno uint32) (*Page, error) {
	val, err := pc.pages.Get(uint64(pgno))
	if err != nil {
		return nil, err
	}
	return val.(*Page), nil
}

// Release unpins pg; the last release of a dirty page writes it back.
func (pc *Cache) Release(pg *Page) {
	pc.pages.Release(uint64(pg.no))
}

// NewPage appends a page initialized with data to the file and returns its
// page number. The page is flushed immediately, so the file length grows
// deterministically, and is not left in the cache.
func (pc *Cache) NewPage(data []byte) uint32 {
	pgno := atomic.AddUint32(&pc.pageCount, 1)
	pg := &Page{no: pgno, data: data, pc: pc}
	pc.Flush(pg)
	return pgno
}

// Flush writes pg to the data file and forces it to disk.
func (pc *Cache) Flush(pg *Page) {
	pc.fileMutex.Lock()
	defer pc.fileMutex.Unlock()

	_, err := pc.f.WriteAt(pg.data, pageOffset(pg.no))
	if err != nil {
		panic(errors.Wrapf(err, "page: write page %d", pg.no))
	}
	err = pc.f.Sync()
	if err != nil {
		panic(errors.Wrap(err, "page: sync"))
	}
}

// TruncateTo cuts the data file down to maxPgno pages; recovery uses it to
// make the file length deterministic before replaying the log.
func (pc *Cache) TruncateTo(maxPgno uint32) {
	pc.fileMutex.Lock()
	defer pc.fileMutex.Unlock()

	err := pc.f.Truncate(pageOffset(maxPgno + 1))
	if err != nil {
		panic(errors.Wrapf(err, "page: truncate to %d pages", maxPgno))
	}
	atomic.StoreUint32(&pc.pageCount, maxPgno)
}

// PageCount returns the number of pages in the data file.
func (pc *Cache) PageCount() uint32 {
	return atomic.LoadUint32(&pc.pageCount)
}

func (pc *Cache) Close() {
	pc.pages.Close()

	pc.fileMutex.Lock()
	defer pc.fileMutex.Unlock()

	err := pc.f.Sync()
	if err != nil {
		panic(errors.Wrap(err, "page: sync"))
	}
	err = pc.f.Close()
	if err != nil {
		panic(errors.Wrap(err, "page: close"))
	}
}
