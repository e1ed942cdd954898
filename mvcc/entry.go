package mvcc

import (
	"encoding/binary"

	"github.com/leftmike/soko/storage/data"
)

// An Entry is the MVCC envelope written into a slot's payload:
//
//	[xmin:8][xmax:8][record]
//
// xmin is the XID that created the version and never changes; xmax is zero
// until the version is deleted, then the deleter's XID, mutated in place under
// the slot's write lock with a logged update.
const (
	xminOff        = 0
	xmaxOff        = 8
	entryHeaderLen = 16
)

type Entry struct {
	vm  *VersionManager
	uid uint64
	it  *data.Item
}

// wrapEntry frames record as a new version created by xid.
func wrapEntry(xid uint64, record []byte) []byte {
	raw := make([]byte, entryHeaderLen+len(record))
	binary.LittleEndian.PutUint64(raw[xminOff:], xid)
	copy(raw[entryHeaderLen:], record)
	return raw
}

func (e *Entry) Xmin() uint64 {
	e.it.RLock()
	defer e.it.RUnlock()

	return binary.LittleEndian.Uint64(e.it.Data()[xminOff:])
}

func (e *Entry) Xmax() uint64 {
	e.it.RLock()
	defer e.it.RUnlock()

	return binary.LittleEndian.Uint64(e.it.Data()[xmaxOff:])
}

// Record returns a copy of the version's record bytes.
func (e *Entry) Record() []byte {
	e.it.RLock()
	defer e.it.RUnlock()

	d := e.it.Data()
	return append([]byte(nil), d[entryHeaderLen:]...)
}

// setXmax marks the version deleted by xid, through the slot's logged update
// protocol.
func (e *Entry) setXmax(xid uint64) {
	e.it.Before()
	binary.LittleEndian.PutUint64(e.it.Data()[xmaxOff:], xid)
	e.it.After(xid)
}

func (e *Entry) release() {
	e.vm.entries.Release(e.uid)
}
