package mvcc

import (
	"github.com/leftmike/soko/storage/xact"
)

// visible reports whether t can see the version e under t's isolation level.
func visible(tm *xact.Manager, t *transaction, e *Entry) bool {
	if t.level == ReadCommitted {
		return readCommitted(tm, t, e)
	}
	return repeatableRead(tm, t, e)
}

// readCommitted: a version is visible if t created it and has not deleted it,
// or if its creator committed and no committed transaction other than t has
// deleted it.
func readCommitted(tm *xact.Manager, t *transaction, e *Entry) bool {
	xmin := e.Xmin()
	xmax := e.Xmax()

	if xmin == t.xid && xmax == 0 {
		return true
	}
	if tm.IsCommitted(xmin) {
		if xmax == 0 {
			return true
		}
		if xmax != t.xid && !tm.IsCommitted(xmax) {
			return true
		}
	}
	return false
}

// repeatableRead additionally requires the creator to have committed before t
// began (lower XID, not in t's snapshot), and ignores deletions by
// transactions invisible to t.
func repeatableRead(tm *xact.Manager, t *transaction, e *Entry) bool {
	xmin := e.Xmin()
	xmax := e.Xmax()

	if xmin == t.xid && xmax == 0 {
		return true
	}
	if tm.IsCommitted(xmin) && xmin < t.xid && !t.inSnapshot(xmin) {
		if xmax == 0 {
			return true
		}
		if xmax != t.xid {
			if !tm.IsCommitted(xmax) || xmax > t.xid || t.inSnapshot(xmax) {
				return true
			}
		}
	}
	return false
}

// versionSkip reports whether a committed transaction invisible to t has
// already deleted e: writing over that deletion would skip a version. Only
// repeatable-read transactions care.
func versionSkip(tm *xact.Manager, t *transaction, e *Entry) bool {
	if t.level == ReadCommitted {
		return false
	}
	xmax := e.Xmax()
	return tm.IsCommitted(xmax) && (xmax > t.xid || t.inSnapshot(xmax))
}
