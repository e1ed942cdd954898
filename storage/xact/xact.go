package xact

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
)

const (
	// Super is the reserved transaction: always committed, never recorded in
	// the XID file.
	Super uint64 = 0

	Suffix = ".xid"

	headerLen = 8
)

// Status is the persistent state of a transaction.
type Status byte

const (
	Active    Status = 0
	Committed Status = 1
	Aborted   Status = 2
)

var (
	ErrBadXIDFile = errors.New("xact: bad XID file")
)

// Manager is the persistent transaction-state registry: an 8-byte counter of
// known XIDs followed by one status byte per XID. Every mutation is forced to
// disk before it is acknowledged.
type Manager struct {
	mutex   sync.Mutex
	f       *os.File
	counter uint64
}

// Create makes a new, empty XID file at path + Suffix.
func Create(path string) (*Manager, error) {
	f, err := os.OpenFile(path+Suffix, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "xact: create")
	}

	tm := &Manager{f: f}
	tm.writeCounter()
	return tm, nil
}

// Open opens an existing XID file, checking that the counter in the header
// accounts for the file's length.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path+Suffix, os.O_RDWR, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "xact: open")
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "xact: open")
	}
	if fi.Size() < headerLen {
		f.Close()
		return nil, ErrBadXIDFile
	}

	var buf [headerLen]byte
	_, err = f.ReadAt(buf[:], 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "xact: open")
	}
	counter := binary.LittleEndian.Uint64(buf[:])
	if statusOffset(counter+1) != fi.Size() {
		f.Close()
		return nil, ErrBadXIDFile
	}

	return &Manager{f: f, counter: counter}, nil
}

func statusOffset(xid uint64) int64 {
	return headerLen + int64(xid) - 1
}

func (tm *Manager) sync() {
	err := tm.f.Sync()
	if err != nil {
		panic(errors.Wrap(err, "xact: sync"))
	}
}

func (tm *Manager) writeStatus(xid uint64, st Status) {
	_, err := tm.f.WriteAt([]byte{byte(st)}, statusOffset(xid))
	if err != nil {
		panic(errors.Wrapf(err, "xact: write status of %d", xid))
	}
	tm.sync()
}

func (tm *Manager) writeCounter() {
	var buf [headerLen]byte
	binary.LittleEndian.PutUint64(buf[:], tm.counter)
	_, err := tm.f.WriteAt(buf[:], 0)
	if err != nil {
		panic(errors.Wrap(err, "xact: write counter"))
	}
	tm.sync()
}

// Begin reserves the next XID, records it as active, and returns it. The
// status byte is durable before the counter is advanced, so a crash between
// the two leaves no unaccounted XID.
func (tm *Manager) Begin() uint64 {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	xid := tm.counter + 1
	tm.writeStatus(xid, Active)
	tm.counter = xid
	tm.writeCounter()
	return xid
}

func (tm *Manager) Commit(xid uint64) {
	tm.writeStatus(xid, Committed)
}

func (tm *Manager) Abort(xid uint64) {
	tm.writeStatus(xid, Aborted)
}

func (tm *Manager) status(xid uint64) Status {
	var buf [1]byte
	_, err := tm.f.ReadAt(buf[:], statusOffset(xid))
	if err != nil {
		panic(errors.Wrapf(err, "xact: read status of %d", xid))
	}
	return Status(buf[0])
}

func (tm *Manager) IsActive(xid uint64) bool {
	if xid == Super {
		return false
	}
	return tm.status(xid) == Active
}

func (tm *Manager) IsCommitted(xid uint64) bool {
	if xid == Super {
		return true
	}
	return tm.status(xid) == Committed
}

func (tm *Manager) IsAborted(xid uint64) bool {
	if xid == Super {
		return false
	}
	return tm.status(xid) == Aborted
}

// AbortActive marks every XID still recorded as active as aborted. Recovery
// runs it after undo so that no active XIDs survive a crash, even ones that
// logged nothing.
func (tm *Manager) AbortActive() {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	for xid := uint64(1); xid <= tm.counter; xid += 1 {
		if tm.status(xid) == Active {
			tm.writeStatus(xid, Aborted)
		}
	}
}

func (tm *Manager) Close() {
	err := tm.f.Close()
	if err != nil {
		panic(errors.Wrap(err, "xact: close"))
	}
}
