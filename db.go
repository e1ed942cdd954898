package soko

import (
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/soko/config"
	"github.com/leftmike/soko/mvcc"
	"github.com/leftmike/soko/storage/data"
	"github.com/leftmike/soko/storage/xact"
)

// Options configures a database. Path is the prefix shared by the data file
// (<Path>.db), the log file (<Path>.log), and the XID file (<Path>.xid).
// CachePages is the page cache capacity and must be at least
// page.MinCachePages.
type Options struct {
	Path       string
	CachePages int
}

// OptionsConfig registers the database options as config variables.
func OptionsConfig(cfg *config.Config) *Options {
	opts := Options{}
	cfg.Var(&opts.Path, "data-path").Usage("path prefix for the data, log, and XID files").
		Env("SOKO_DATA_PATH").String("soko")
	cfg.Var(&opts.CachePages, "cache-pages").Usage("page cache capacity in pages").Int(256)
	return &opts
}

// DB is the record-level storage and transaction core: durable variable-length
// records identified by UIDs, read and written under MVCC with row-level
// locking, and recovered from the write-ahead log after a crash.
type DB struct {
	tm *xact.Manager
	dm *data.Manager
	vm *mvcc.VersionManager
}

// Create makes a new database at opts.Path.
func Create(opts Options) (*DB, error) {
	log.WithField("path", opts.Path).Info("soko: creating database")

	tm, err := xact.Create(opts.Path)
	if err != nil {
		return nil, err
	}
	dm, err := data.Create(opts.Path, opts.CachePages, tm)
	if err != nil {
		return nil, err
	}
	return &DB{tm: tm, dm: dm, vm: mvcc.NewVersionManager(tm, dm)}, nil
}

// Open opens an existing database at opts.Path, recovering it first if the
// previous run crashed.
func Open(opts Options) (*DB, error) {
	log.WithField("path", opts.Path).Info("soko: opening database")

	tm, err := xact.Open(opts.Path)
	if err != nil {
		return nil, err
	}
	dm, err := data.Open(opts.Path, opts.CachePages, tm)
	if err != nil {
		return nil, err
	}
	return &DB{tm: tm, dm: dm, vm: mvcc.NewVersionManager(tm, dm)}, nil
}

// Begin starts a transaction and returns its XID.
func (db *DB) Begin(level mvcc.IsolationLevel) uint64 {
	return db.vm.Begin(level)
}

// Read returns a copy of the record at uid if it is visible to xid, or nil.
func (db *DB) Read(xid, uid uint64) ([]byte, error) {
	return db.vm.Read(xid, uid)
}

// Insert stores record and returns the UID of the new version.
func (db *DB) Insert(xid uint64, record []byte) (uint64, error) {
	return db.vm.Insert(xid, record)
}

// Delete removes the version at uid for xid; it reports whether there was a
// visible version to delete.
func (db *DB) Delete(xid, uid uint64) (bool, error) {
	return db.vm.Delete(xid, uid)
}

func (db *DB) Commit(xid uint64) error {
	return db.vm.Commit(xid)
}

func (db *DB) Abort(xid uint64) {
	db.vm.Abort(xid)
}

// Close shuts the database down cleanly; a subsequent Open will not run
// recovery.
func (db *DB) Close() {
	db.dm.Close()
	db.tm.Close()
}
