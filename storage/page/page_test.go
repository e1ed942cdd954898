package page_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/leftmike/soko/storage/page"
	"github.com/leftmike/soko/storage/util"
	"github.com/leftmike/soko/testutil"
)

func TestMain(m *testing.M) {
	err := testutil.CleanDir("testdata", []string{".gitkeep"})
	if err != nil {
		panic(err)
	}
	testutil.SetupLogger(filepath.Join("testdata", "page_test.log"))

	os.Exit(m.Run())
}

func TestNewGetRelease(t *testing.T) {
	path := filepath.Join("testdata", "new_get_release")

	pc, err := page.Create(path, 10)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", path, err)
	}

	data := page.InitData()
	copy(data[2:], "some payload bytes")
	pgno := pc.NewPage(data)
	if pgno != 1 {
		t.Errorf("NewPage() got page %d want 1", pgno)
	}
	if pc.PageCount() != 1 {
		t.Errorf("PageCount() got %d want 1", pc.PageCount())
	}

	pg, err := pc.GetPage(pgno)
	if err != nil {
		t.Fatalf("GetPage(%d) failed with %s", pgno, err)
	}
	if !bytes.Equal(pg.Data(), data) {
		t.Errorf("GetPage(%d) returned different bytes", pgno)
	}

	// Dirty the page; release must write it back.
	copy(pg.Data()[2:], "changed")
	pg.SetDirty()
	pg.Release()
	pc.Close()

	pc, err = page.Open(path, 10)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", path, err)
	}
	pg, err = pc.GetPage(pgno)
	if err != nil {
		t.Fatalf("GetPage(%d) failed with %s", pgno, err)
	}
	if !bytes.Equal(pg.Data()[2:9], []byte("changed")) {
		t.Errorf("GetPage(%d) did not see the released write", pgno)
	}
	pg.Release()
	pc.Close()
}

func TestCacheFull(t *testing.T) {
	path := filepath.Join("testdata", "cache_full")

	pc, err := page.Create(path, 10)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", path, err)
	}

	var pages []*page.Page
	for pgno := uint32(1); pgno <= 11; pgno += 1 {
		pc.NewPage(page.InitData())
	}
	for pgno := uint32(1); pgno <= 10; pgno += 1 {
		pg, err := pc.GetPage(pgno)
		if err != nil {
			t.Fatalf("GetPage(%d) failed with %s", pgno, err)
		}
		pages = append(pages, pg)
	}

	_, err = pc.GetPage(11)
	if err != util.ErrCacheFull {
		t.Errorf("GetPage(11) got %v want %v", err, util.ErrCacheFull)
	}

	// A pinned page is still available without a free slot.
	pg, err := pc.GetPage(5)
	if err != nil {
		t.Fatalf("GetPage(5) failed with %s", err)
	}
	pg.Release()

	pages[0].Release()
	pg, err = pc.GetPage(11)
	if err != nil {
		t.Fatalf("GetPage(11) after release failed with %s", err)
	}
	pg.Release()

	for _, pg := range pages[1:] {
		pg.Release()
	}
	pc.Close()
}

func TestCacheTooSmall(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Create() with a tiny cache did not panic")
		}
	}()

	path := filepath.Join("testdata", "cache_too_small")
	page.Create(path, 9)
}

func TestMarker(t *testing.T) {
	path := filepath.Join("testdata", "marker")

	pc, err := page.Create(path, 10)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", path, err)
	}
	pgno := pc.NewPage(page.InitOne())
	pg, err := pc.GetPage(pgno)
	if err != nil {
		t.Fatalf("GetPage(%d) failed with %s", pgno, err)
	}

	if page.CheckMarker(pg) {
		t.Errorf("CheckMarker() on a freshly opened page 1 got true want false")
	}
	page.SetCloseMarker(pg)
	if !page.CheckMarker(pg) {
		t.Errorf("CheckMarker() after SetCloseMarker() got false want true")
	}
	page.SetOpenMarker(pg)
	if page.CheckMarker(pg) {
		t.Errorf("CheckMarker() after SetOpenMarker() got true want false")
	}

	pg.Release()
	pc.Close()
}

func TestOrdinaryLayout(t *testing.T) {
	path := filepath.Join("testdata", "ordinary_layout")

	pc, err := page.Create(path, 10)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", path, err)
	}
	pgno := pc.NewPage(page.InitData())
	pg, err := pc.GetPage(pgno)
	if err != nil {
		t.Fatalf("GetPage(%d) failed with %s", pgno, err)
	}

	if page.FSO(pg) != 2 {
		t.Errorf("FSO() of an empty page got %d want 2", page.FSO(pg))
	}
	if page.FreeSpace(pg) != page.MaxFreeSpace {
		t.Errorf("FreeSpace() of an empty page got %d want %d", page.FreeSpace(pg),
			page.MaxFreeSpace)
	}

	off := page.Append(pg, []byte("abcdef"))
	if off != 2 {
		t.Errorf("Append() got offset %d want 2", off)
	}
	off = page.Append(pg, []byte("ghi"))
	if off != 8 {
		t.Errorf("Append() got offset %d want 8", off)
	}
	if page.FSO(pg) != 11 {
		t.Errorf("FSO() got %d want 11", page.FSO(pg))
	}
	if !bytes.Equal(pg.Data()[2:11], []byte("abcdefghi")) {
		t.Errorf("Append() wrote %v", pg.Data()[2:11])
	}

	// Recovering an append past the FSO moves it; recovering a write does not.
	page.RecoverAppend(pg, []byte("xyz"), 20)
	if page.FSO(pg) != 23 {
		t.Errorf("FSO() after RecoverAppend() got %d want 23", page.FSO(pg))
	}
	page.RecoverWrite(pg, []byte("ABC"), 2)
	if page.FSO(pg) != 23 {
		t.Errorf("FSO() after RecoverWrite() got %d want 23", page.FSO(pg))
	}
	if !bytes.Equal(pg.Data()[2:5], []byte("ABC")) {
		t.Errorf("RecoverWrite() wrote %v", pg.Data()[2:5])
	}

	pg.Release()
	pc.Close()
}

func TestTruncateTo(t *testing.T) {
	path := filepath.Join("testdata", "truncate_to")

	pc, err := page.Create(path, 10)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", path, err)
	}
	for i := 0; i < 5; i += 1 {
		pc.NewPage(page.InitData())
	}
	pc.TruncateTo(2)
	if pc.PageCount() != 2 {
		t.Errorf("PageCount() after TruncateTo(2) got %d want 2", pc.PageCount())
	}
	pc.Close()

	fi, err := os.Stat(path + page.Suffix)
	if err != nil {
		t.Fatalf("Stat() failed with %s", err)
	}
	if fi.Size() != 2*page.Size {
		t.Errorf("file size got %d want %d", fi.Size(), 2*page.Size)
	}
}
