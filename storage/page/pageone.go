package page

import (
	"bytes"
	"crypto/rand"

	"github.com/pkg/errors"
)

// Page 1 is reserved as the clean-shutdown marker. On open a random nonce is
// written at [100,108); on clean close it is copied to [108,116). If the two
// regions differ at the next open, the previous run crashed.
const (
	markerOff = 100
	markerLen = 8
)

func nonce() []byte {
	buf := make([]byte, markerLen)
	_, err := rand.Read(buf)
	if err != nil {
		panic(errors.Wrap(err, "page: random nonce"))
	}
	return buf
}

// InitOne returns the initial contents of page 1.
func InitOne() []byte {
	data := make([]byte, Size)
	copy(data[markerOff:], nonce())
	return data
}

// SetOpenMarker writes a fresh nonce into the open slot of page 1.
func SetOpenMarker(pg *Page) {
	pg.SetDirty()
	copy(pg.Data()[markerOff:markerOff+markerLen], nonce())
}

// SetCloseMarker copies the open slot to the close slot of page 1.
func SetCloseMarker(pg *Page) {
	pg.SetDirty()
	data := pg.Data()
	copy(data[markerOff+markerLen:markerOff+2*markerLen], data[markerOff:markerOff+markerLen])
}

// CheckMarker reports whether page 1 shows a clean shutdown.
func CheckMarker(pg *Page) bool {
	data := pg.Data()
	return bytes.Equal(data[markerOff:markerOff+markerLen],
		data[markerOff+markerLen:markerOff+2*markerLen])
}
