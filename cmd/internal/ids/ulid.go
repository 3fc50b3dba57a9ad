package ids

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars), used for envelope and request ids.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRandomID returns a positive 63-bit correlation id for an outgoing message.
func NewRandomID() int64 {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			// crypto/rand does not fail on supported platforms; fall back to the clock.
			return time.Now().UnixNano() & (1<<63 - 1)
		}
		if v := int64(binary.BigEndian.Uint64(b[:]) &^ (1 << 63)); v != 0 {
			return v
		}
	}
}
