package wal

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
)

const (
	// Seed drives the rolling polynomial checksums; changing it breaks file
	// compatibility.
	Seed = 13331

	Suffix = ".log"

	prefixLen = 4 // whole-file checksum
	headerLen = 8 // per record: [len:4][chk:4]
)

var (
	ErrBadLog = errors.New("wal: bad log file")
)

// Log is an append-only write-ahead log:
//
//	[xChecksum:4] [record]*
//	record: [len:4] [chk:4] [payload:len]
//
// All integers are little-endian. The per-record checksum covers the payload;
// the file checksum accumulates the per-record checksums. A trailing record
// that fails to parse, or whose checksum does not verify, is a bad tail left by
// a crash and is truncated on open.
type Log struct {
	mutex  sync.Mutex
	f      *os.File
	xCheck int32
	size   int64
	pos    int64 // iterator offset
}

// Checksum folds data into x: x = x*Seed + b for each (signed) byte, wrapping
// in 32 bits.
func Checksum(x int32, data []byte) int32 {
	for _, b := range data {
		x = x*Seed + int32(int8(b))
	}
	return x
}

// Create makes a new, empty log at path + Suffix.
func Create(path string) (*Log, error) {
	f, err := os.OpenFile(path+Suffix, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "wal: create")
	}

	l := &Log{f: f, size: prefixLen, pos: prefixLen}
	l.writePrefix()
	return l, nil
}

// Open opens an existing log, verifies the file checksum, and truncates any
// bad tail.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path+Suffix, os.O_RDWR, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "wal: open")
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "wal: open")
	}
	if fi.Size() < prefixLen {
		f.Close()
		return nil, ErrBadLog
	}

	var buf [prefixLen]byte
	_, err = f.ReadAt(buf[:], 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "wal: open")
	}

	l := &Log{
		f:      f,
		xCheck: int32(binary.LittleEndian.Uint32(buf[:])),
		size:   fi.Size(),
		pos:    prefixLen,
	}

	err = l.checkAndRemoveTail()
	if err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// checkAndRemoveTail walks the records, accumulating the file checksum. A
// clean walk to EOF must match the stored prefix. A bad tail is cut off and
// the prefix rewritten to cover only the surviving records, keeping append and
// verify symmetric.
func (l *Log) checkAndRemoveTail() error {
	pos := int64(prefixLen)
	var x int32
	for {
		payload, next, ok := l.readRecord(pos)
		if !ok {
			break
		}
		x = x*Seed + Checksum(0, payload)
		pos = next
	}

	if pos == l.size {
		if x != l.xCheck {
			return ErrBadLog
		}
		return nil
	}

	err := l.f.Truncate(pos)
	if err != nil {
		return errors.Wrap(err, "wal: truncate bad tail")
	}
	l.size = pos
	l.xCheck = x
	l.writePrefix()
	return nil
}

// readRecord parses the record at pos, returning its payload and the offset of
// the next record. A short or corrupt record reads as end-of-log.
func (l *Log) readRecord(pos int64) ([]byte, int64, bool) {
	if pos+headerLen > l.size {
		return nil, 0, false
	}

	var hdr [headerLen]byte
	_, err := l.f.ReadAt(hdr[:], pos)
	if err != nil {
		panic(errors.Wrap(err, "wal: read"))
	}
	length := int64(binary.LittleEndian.Uint32(hdr[:4]))
	chk := int32(binary.LittleEndian.Uint32(hdr[4:]))

	if pos+headerLen+length > l.size {
		return nil, 0, false
	}
	payload := make([]byte, length)
	_, err = l.f.ReadAt(payload, pos+headerLen)
	if err != nil {
		panic(errors.Wrap(err, "wal: read"))
	}
	if Checksum(0, payload) != chk {
		return nil, 0, false
	}
	return payload, pos + headerLen + length, true
}

func (l *Log) writePrefix() {
	var buf [prefixLen]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(l.xCheck))
	_, err := l.f.WriteAt(buf[:], 0)
	if err != nil {
		panic(errors.Wrap(err, "wal: write checksum"))
	}
	err = l.f.Sync()
	if err != nil {
		panic(errors.Wrap(err, "wal: sync"))
	}
}

// Append writes data as a new record at the end of the log, updates the file
// checksum, and forces both to disk before returning.
func (l *Log) Append(data []byte) {
	chk := Checksum(0, data)
	buf := make([]byte, headerLen+len(data))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(chk))
	copy(buf[headerLen:], data)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	_, err := l.f.WriteAt(buf, l.size)
	if err != nil {
		panic(errors.Wrap(err, "wal: append"))
	}
	l.size += int64(len(buf))

	l.xCheck = l.xCheck*Seed + chk
	l.writePrefix()
}

// Rewind resets the iterator to the first record.
func (l *Log) Rewind() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.pos = prefixLen
}

// Next returns the payload of the next record, or nil at the end of the log.
func (l *Log) Next() []byte {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	payload, next, ok := l.readRecord(l.pos)
	if !ok {
		return nil
	}
	l.pos = next
	return payload
}

func (l *Log) Close() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	err := l.f.Sync()
	if err != nil {
		panic(errors.Wrap(err, "wal: sync"))
	}
	err = l.f.Close()
	if err != nil {
		panic(errors.Wrap(err, "wal: close"))
	}
}
