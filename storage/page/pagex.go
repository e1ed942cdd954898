package page

import (
	"encoding/binary"
)

// Ordinary pages (pgno >= 2) store a little-endian free-space offset in their
// first two bytes and payload bytes at [2, FSO). The FSO is the end-of-payload
// cursor: appending always happens there.
const (
	fsoLen = 2

	// MaxFreeSpace is the payload capacity of an empty ordinary page.
	MaxFreeSpace = Size - fsoLen
)

// InitData returns the initial contents of an ordinary page.
func InitData() []byte {
	data := make([]byte, Size)
	binary.LittleEndian.PutUint16(data, fsoLen)
	return data
}

// FSO returns pg's free-space offset.
func FSO(pg *Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data())
}

func setFSO(data []byte, fso uint16) {
	binary.LittleEndian.PutUint16(data, fso)
}

// FreeSpace returns the number of payload bytes still available in pg.
func FreeSpace(pg *Page) int {
	return Size - int(FSO(pg))
}

// Append splices raw at pg's free-space offset, advances the offset, and
// returns the offset raw was written at.
func Append(pg *Page, raw []byte) uint16 {
	pg.SetDirty()
	data := pg.Data()
	off := binary.LittleEndian.Uint16(data)
	copy(data[off:], raw)
	setFSO(data, off+uint16(len(raw)))
	return off
}

// RecoverAppend writes raw at off during recovery of a logged insert, moving
// the free-space offset forward if the write extends past it.
func RecoverAppend(pg *Page, raw []byte, off uint16) {
	pg.SetDirty()
	data := pg.Data()
	copy(data[off:], raw)
	end := off + uint16(len(raw))
	if binary.LittleEndian.Uint16(data) < end {
		setFSO(data, end)
	}
}

// RecoverWrite overwrites the bytes at off during recovery of a logged
// update; the free-space offset is left alone.
func RecoverWrite(pg *Page, raw []byte, off uint16) {
	pg.SetDirty()
	copy(pg.Data()[off:], raw)
}
