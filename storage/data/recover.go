package data

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/soko/storage/page"
	"github.com/leftmike/soko/storage/wal"
	"github.com/leftmike/soko/storage/xact"
)

// Log record layouts; all integers little-endian.
//
//	append: [recAppend:1][xid:8][pgno:4][off:2][raw]
//	write:  [recWrite:1][xid:8][uid:8][old][new]
//
// The old and new images of a write record cover the whole slot and have equal
// lengths, inferred from the record size.
const (
	recAppend = 0
	recWrite  = 1
)

type appendRec struct {
	xid  uint64
	pgno uint32
	off  uint16
	raw  []byte
}

type writeRec struct {
	xid uint64
	uid uint64
	old []byte
	new []byte
}

func appendRecord(xid uint64, pgno uint32, off uint16, raw []byte) []byte {
	rec := make([]byte, 15+len(raw))
	rec[0] = recAppend
	binary.LittleEndian.PutUint64(rec[1:], xid)
	binary.LittleEndian.PutUint32(rec[9:], pgno)
	binary.LittleEndian.PutUint16(rec[13:], off)
	copy(rec[15:], raw)
	return rec
}

func parseAppendRecord(rec []byte) appendRec {
	return appendRec{
		xid:  binary.LittleEndian.Uint64(rec[1:]),
		pgno: binary.LittleEndian.Uint32(rec[9:]),
		off:  binary.LittleEndian.Uint16(rec[13:]),
		raw:  rec[15:],
	}
}

func writeRecord(xid, uid uint64, old, new []byte) []byte {
	rec := make([]byte, 17+len(old)+len(new))
	rec[0] = recWrite
	binary.LittleEndian.PutUint64(rec[1:], xid)
	binary.LittleEndian.PutUint64(rec[9:], uid)
	copy(rec[17:], old)
	copy(rec[17+len(old):], new)
	return rec
}

func parseWriteRecord(rec []byte) writeRec {
	n := (len(rec) - 17) / 2
	return writeRec{
		xid: binary.LittleEndian.Uint64(rec[1:]),
		uid: binary.LittleEndian.Uint64(rec[9:]),
		old: rec[17 : 17+n],
		new: rec[17+n:],
	}
}

func recordXidPgno(rec []byte) (uint64, uint32) {
	switch rec[0] {
	case recAppend:
		ar := parseAppendRecord(rec)
		return ar.xid, ar.pgno
	case recWrite:
		wr := parseWriteRecord(rec)
		pgno, _ := SplitUID(wr.uid)
		return wr.xid, pgno
	}
	panic(errors.Errorf("data: bad log record type %d", rec[0]))
}

// runRecovery replays the log against the page cache: the data file is
// truncated to the last logged page, records of finished transactions are
// redone forward, and records of transactions that were still in flight are
// undone in reverse.
func runRecovery(tm *xact.Manager, l *wal.Log, pc *page.Cache) {
	log.Info("data: recovering")

	l.Rewind()
	maxPgno := uint32(1)
	for {
		rec := l.Next()
		if rec == nil {
			break
		}
		_, pgno := recordXidPgno(rec)
		if pgno > maxPgno {
			maxPgno = pgno
		}
	}
	pc.TruncateTo(maxPgno)
	log.WithField("pages", maxPgno).Info("data: truncated data file")

	redoFinished(tm, l, pc)
	log.Info("data: redo complete")
	undoActive(tm, l, pc)
	tm.AbortActive()
	log.Info("data: undo complete")
}

// redoFinished re-applies every record whose transaction committed or aborted
// before the crash.
func redoFinished(tm *xact.Manager, l *wal.Log, pc *page.Cache) {
	l.Rewind()
	for {
		rec := l.Next()
		if rec == nil {
			break
		}
		xid, _ := recordXidPgno(rec)
		if tm.IsActive(xid) {
			continue
		}

		switch rec[0] {
		case recAppend:
			ar := parseAppendRecord(rec)
			withPage(pc, ar.pgno, func(pg *page.Page) {
				page.RecoverAppend(pg, ar.raw, ar.off)
			})
		case recWrite:
			wr := parseWriteRecord(rec)
			pgno, off := SplitUID(wr.uid)
			withPage(pc, pgno, func(pg *page.Page) {
				page.RecoverWrite(pg, wr.new, off)
			})
		}
	}
}

// undoActive walks each in-flight transaction's records in reverse: appends
// are invalidated in place and writes get their old image back. Each undone
// transaction is then marked aborted.
func undoActive(tm *xact.Manager, l *wal.Log, pc *page.Cache) {
	undo := map[uint64][][]byte{}

	l.Rewind()
	for {
		rec := l.Next()
		if rec == nil {
			break
		}
		xid, _ := recordXidPgno(rec)
		if tm.IsActive(xid) {
			undo[xid] = append(undo[xid], rec)
		}
	}

	for xid, recs := range undo {
		for rdx := len(recs) - 1; rdx >= 0; rdx -= 1 {
			rec := recs[rdx]
			switch rec[0] {
			case recAppend:
				ar := parseAppendRecord(rec)
				raw := append([]byte(nil), ar.raw...)
				setRawInvalid(raw)
				withPage(pc, ar.pgno, func(pg *page.Page) {
					page.RecoverAppend(pg, raw, ar.off)
				})
			case recWrite:
				wr := parseWriteRecord(rec)
				pgno, off := SplitUID(wr.uid)
				withPage(pc, pgno, func(pg *page.Page) {
					page.RecoverWrite(pg, wr.old, off)
				})
			}
		}
		tm.Abort(xid)
	}
}

func withPage(pc *page.Cache, pgno uint32, fn func(pg *page.Page)) {
	pg, err := pc.GetPage(pgno)
	if err != nil {
		panic(err)
	}
	fn(pg)
	pg.Release()
}
