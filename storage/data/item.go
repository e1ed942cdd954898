package data

import (
	"encoding/binary"
	"sync"

	"github.com/leftmike/soko/storage/page"
)

// An Item is a slot within a page: [valid:1][size:2][payload:size]. A slot is
// never moved or reused; it is removed by flipping the valid byte. Items are
// identified by a UID packing the page number into the high 32 bits and the
// slot's in-page offset into the low 16 bits.
const (
	itemHeaderLen = 3

	validOff = 0
	sizeOff  = 1
)

// MakeUID packs a page number and an in-page offset into a UID.
func MakeUID(pgno uint32, off uint16) uint64 {
	return uint64(pgno)<<32 | uint64(off)
}

// SplitUID unpacks a UID into its page number and in-page offset.
func SplitUID(uid uint64) (uint32, uint16) {
	return uint32(uid >> 32), uint16(uid)
}

// Item is a pinned slot. It holds a reference to its host page until it is
// released; mutations go through the Before/After protocol so that the
// before-image and the write-ahead log stay consistent with the page.
type Item struct {
	dm    *Manager
	pg    *page.Page
	uid   uint64
	start int
	end   int
	old   []byte
	mutex sync.RWMutex
}

// wrapRaw frames payload as a valid slot.
func wrapRaw(payload []byte) []byte {
	raw := make([]byte, itemHeaderLen+len(payload))
	binary.LittleEndian.PutUint16(raw[sizeOff:], uint16(len(payload)))
	copy(raw[itemHeaderLen:], payload)
	return raw
}

// setRawInvalid flips the valid byte of a framed slot.
func setRawInvalid(raw []byte) {
	raw[validOff] = 1
}

// parseItem reads the slot starting at off in pg.
func parseItem(dm *Manager, pg *page.Page, off uint16) *Item {
	data := pg.Data()
	size := binary.LittleEndian.Uint16(data[int(off)+sizeOff:])
	end := int(off) + itemHeaderLen + int(size)
	return &Item{
		dm:    dm,
		pg:    pg,
		uid:   MakeUID(pg.No(), off),
		start: int(off),
		end:   end,
		old:   make([]byte, end-int(off)),
	}
}

func (it *Item) UID() uint64 {
	return it.uid
}

// Valid reports whether the slot's valid byte is still clear.
func (it *Item) Valid() bool {
	return it.pg.Data()[it.start+validOff] == 0
}

// Data returns the slot's payload bytes, shared with the host page. Readers
// must hold the item's read lock; writers go through Before/After.
func (it *Item) Data() []byte {
	return it.pg.Data()[it.start+itemHeaderLen : it.end]
}

func (it *Item) raw() []byte {
	return it.pg.Data()[it.start:it.end]
}

// Before starts a mutation: it takes the write lock, marks the page dirty, and
// saves the slot's before-image.
func (it *Item) Before() {
	it.mutex.Lock()
	it.pg.SetDirty()
	copy(it.old, it.raw())
}

// UnBefore cancels a mutation, restoring the before-image.
func (it *Item) UnBefore() {
	copy(it.raw(), it.old)
	it.mutex.Unlock()
}

// After finishes a mutation by logging the update for xid and releasing the
// write lock. The log record is durable before the lock is given up.
func (it *Item) After(xid uint64) {
	it.dm.logUpdate(xid, it)
	it.mutex.Unlock()
}

func (it *Item) RLock() {
	it.mutex.RLock()
}

func (it *Item) RUnlock() {
	it.mutex.RUnlock()
}

// Release returns the item to the data manager's cache; the last release
// unpins the host page.
func (it *Item) Release() {
	it.dm.releaseItem(it)
}
