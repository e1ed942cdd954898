package soko_test

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leftmike/soko"
	"github.com/leftmike/soko/config"
	"github.com/leftmike/soko/mvcc"
	"github.com/leftmike/soko/storage/page"
	"github.com/leftmike/soko/testutil"
)

func TestMain(m *testing.M) {
	err := testutil.CleanDir("testdata", []string{".gitkeep"})
	if err != nil {
		panic(err)
	}
	testutil.SetupLogger(filepath.Join("testdata", "soko_test.log"))

	os.Exit(m.Run())
}

func createDB(t *testing.T, name string) *soko.DB {
	t.Helper()

	db, err := soko.Create(soko.Options{
		Path:       filepath.Join("testdata", name),
		CachePages: 10,
	})
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", name, err)
	}
	return db
}

func openDB(t *testing.T, name string) *soko.DB {
	t.Helper()

	db, err := soko.Open(soko.Options{
		Path:       filepath.Join("testdata", name),
		CachePages: 10,
	})
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", name, err)
	}
	return db
}

func TestRoundTrip(t *testing.T) {
	db := createDB(t, "round_trip")

	xid := db.Begin(mvcc.ReadCommitted)
	uid, err := db.Insert(xid, []byte("hello"))
	if err != nil {
		t.Fatalf("Insert() failed with %s", err)
	}
	err = db.Commit(xid)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}

	xid = db.Begin(mvcc.ReadCommitted)
	rec, err := db.Read(xid, uid)
	if err != nil {
		t.Fatalf("Read() failed with %s", err)
	}
	if !bytes.Equal(rec, []byte("hello")) {
		t.Errorf("Read() got %q want %q", rec, "hello")
	}
	err = db.Commit(xid)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	db.Close()

	// Everything survives a clean close.
	db = openDB(t, "round_trip")
	xid = db.Begin(mvcc.RepeatableRead)
	rec, err = db.Read(xid, uid)
	if err != nil {
		t.Fatalf("Read() after reopen failed with %s", err)
	}
	if !bytes.Equal(rec, []byte("hello")) {
		t.Errorf("Read() after reopen got %q want %q", rec, "hello")
	}
	err = db.Commit(xid)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	db.Close()
}

func TestCrashRecovery(t *testing.T) {
	db := createDB(t, "crash_recovery")

	x1 := db.Begin(mvcc.ReadCommitted)
	var committed []uint64
	for i := 0; i < 3; i += 1 {
		uid, err := db.Insert(x1, []byte(fmt.Sprintf("committed %d", i)))
		if err != nil {
			t.Fatalf("Insert() failed with %s", err)
		}
		committed = append(committed, uid)
	}
	err := db.Commit(x1)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}

	x2 := db.Begin(mvcc.ReadCommitted)
	var uncommitted []uint64
	for i := 0; i < 2; i += 1 {
		uid, err := db.Insert(x2, []byte(fmt.Sprintf("uncommitted %d", i)))
		if err != nil {
			t.Fatalf("Insert() failed with %s", err)
		}
		uncommitted = append(uncommitted, uid)
	}

	// Crash: abandon db without closing it and reopen the files.
	db = openDB(t, "crash_recovery")

	xid := db.Begin(mvcc.ReadCommitted)
	for i, uid := range committed {
		rec, err := db.Read(xid, uid)
		if err != nil {
			t.Fatalf("Read() after recovery failed with %s", err)
		}
		want := []byte(fmt.Sprintf("committed %d", i))
		if !bytes.Equal(rec, want) {
			t.Errorf("Read(%d) after recovery got %q want %q", uid, rec, want)
		}
	}
	for _, uid := range uncommitted {
		rec, err := db.Read(xid, uid)
		if err != nil {
			t.Fatalf("Read() after recovery failed with %s", err)
		}
		if rec != nil {
			t.Errorf("Read(%d) of an undone insert got %q want nil", uid, rec)
		}
	}
	err = db.Commit(xid)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	db.Close()
}

func TestPageAllocation(t *testing.T) {
	count := 10000
	if testing.Short() {
		count = 1000
	}

	db := createDB(t, "page_allocation")

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	xid := db.Begin(mvcc.ReadCommitted)
	uids := make([]uint64, count)
	for i := 0; i < count; i += 1 {
		uid, err := db.Insert(xid, payload)
		if err != nil {
			t.Fatalf("Insert() %d failed with %s", i, err)
		}
		uids[i] = uid
	}
	err := db.Commit(xid)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	db.Close()

	// Each record is 3 (slot header) + 16 (version header) + 100 bytes; the
	// file should be close to the dense packing, plus page 1.
	fi, err := os.Stat(filepath.Join("testdata", "page_allocation") + page.Suffix)
	if err != nil {
		t.Fatalf("Stat() failed with %s", err)
	}
	pages := fi.Size() / page.Size
	dense := int64(count*119)/(page.Size-2) + 2
	if pages < dense || pages > dense+dense/10+1 {
		t.Errorf("data file has %d pages want about %d", pages, dense)
	}

	db = openDB(t, "page_allocation")
	xid = db.Begin(mvcc.ReadCommitted)
	for i, uid := range uids {
		rec, err := db.Read(xid, uid)
		if err != nil {
			t.Fatalf("Read() failed with %s", err)
		}
		if !bytes.Equal(rec, payload) {
			t.Errorf("Read() %d got %d bytes that differ from the payload", i, len(rec))
		}
	}
	err = db.Commit(xid)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	db.Close()
}

func TestOptionsConfig(t *testing.T) {
	fs := flag.NewFlagSet("test_options", flag.ContinueOnError)
	cfg := config.NewConfig(fs)
	opts := soko.OptionsConfig(cfg)

	err := fs.Parse([]string{"-data-path", filepath.Join("testdata", "from_flag")})
	if err != nil {
		t.Fatalf("fs.Parse() failed with %s", err)
	}
	err = cfg.Load(strings.NewReader(`cache-pages = 32`))
	if err != nil {
		t.Fatalf("Load() failed with %s", err)
	}

	if opts.Path != filepath.Join("testdata", "from_flag") {
		t.Errorf("Path got %q", opts.Path)
	}
	if opts.CachePages != 32 {
		t.Errorf("CachePages got %d want 32", opts.CachePages)
	}

	db, err := soko.Create(*opts)
	if err != nil {
		t.Fatalf("Create() failed with %s", err)
	}
	xid := db.Begin(mvcc.ReadCommitted)
	uid, err := db.Insert(xid, []byte("configured"))
	if err != nil {
		t.Fatalf("Insert() failed with %s", err)
	}
	err = db.Commit(xid)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	xid = db.Begin(mvcc.ReadCommitted)
	rec, err := db.Read(xid, uid)
	if err != nil || !bytes.Equal(rec, []byte("configured")) {
		t.Errorf("Read() got (%q, %v)", rec, err)
	}
	err = db.Commit(xid)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	db.Close()
}
