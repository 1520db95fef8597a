package shm

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/zeebo/blake3"
)

// On-disk region layout. All integers are little endian.
//
//	0   magic            uint32
//	4   version          uint32
//	8   tickets          uint32
//	12  available        uint32
//	16  state            uint32
//	20  failures         uint32
//	24  successes        uint32
//	28  identifier len   uint32
//	32  state entered at int64
//	40  flags            uint32
//	64  identifier bytes
const (
	regionSize = 512
	headerSize = 64

	regionMagic   uint32 = 0x494d4553 // "SEMI"
	layoutVersion uint32 = 1

	offMagic     = 0
	offVersion   = 4
	offTickets   = 8
	offAvailable = 12
	offState     = 16
	offFailures  = 20
	offSuccesses = 24
	offIDLen     = 28
	offEnteredAt = 32
	offFlags     = 40

	flagDestroyed uint32 = 1 << 0

	regionExt = ".sem"
)

var errLayout = errors.New("incompatible region layout")

func initRegion(buf []byte, id string, sizing Sizing) {
	clear(buf[:regionSize])
	le := binary.LittleEndian
	le.PutUint32(buf[offMagic:], regionMagic)
	le.PutUint32(buf[offVersion:], layoutVersion)
	le.PutUint32(buf[offIDLen:], uint32(len(id)))
	copy(buf[headerSize:], id)
	encodeRecord(buf, newRecord(sizing))
}

func encodeRecord(buf []byte, rec Record) {
	le := binary.LittleEndian
	le.PutUint32(buf[offTickets:], rec.Tickets)
	le.PutUint32(buf[offAvailable:], rec.Available)
	le.PutUint32(buf[offState:], rec.State)
	le.PutUint32(buf[offFailures:], rec.ConsecutiveFailures)
	le.PutUint32(buf[offSuccesses:], rec.ConsecutiveSuccesses)
	le.PutUint64(buf[offEnteredAt:], uint64(rec.StateEnteredAt))
}

func decodeRecord(buf []byte) Record {
	le := binary.LittleEndian
	return Record{
		Tickets:              le.Uint32(buf[offTickets:]),
		Available:            le.Uint32(buf[offAvailable:]),
		State:                le.Uint32(buf[offState:]),
		ConsecutiveFailures:  le.Uint32(buf[offFailures:]),
		ConsecutiveSuccesses: le.Uint32(buf[offSuccesses:]),
		StateEnteredAt:       int64(le.Uint64(buf[offEnteredAt:])),
	}
}

// initialized reports whether a creator has written the header.
func initialized(buf []byte) bool {
	return binary.LittleEndian.Uint32(buf[offMagic:]) != 0
}

func destroyed(buf []byte) bool {
	return binary.LittleEndian.Uint32(buf[offFlags:])&flagDestroyed != 0
}

func markDestroyed(buf []byte) {
	flags := binary.LittleEndian.Uint32(buf[offFlags:])
	binary.LittleEndian.PutUint32(buf[offFlags:], flags|flagDestroyed)
}

// regionIdentifier validates the header and returns the stored identifier.
func regionIdentifier(buf []byte) (string, error) {
	le := binary.LittleEndian
	if m := le.Uint32(buf[offMagic:]); m != regionMagic {
		return "", fmt.Errorf("%w: magic %#x", errLayout, m)
	}
	if v := le.Uint32(buf[offVersion:]); v != layoutVersion {
		return "", fmt.Errorf("%w: version %d", errLayout, v)
	}
	n := le.Uint32(buf[offIDLen:])
	if n == 0 || n > MaxIdentifierLen {
		return "", fmt.Errorf("%w: identifier length %d", errLayout, n)
	}
	return string(buf[headerSize : headerSize+n]), nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileName returns the region file name for id. The readable prefix is for
// operators; the digest keeps distinct identifiers from colliding after
// sanitisation.
func FileName(id string) string {
	prefix := unsafeNameChars.ReplaceAllString(id, "_")
	if len(prefix) > 48 {
		prefix = prefix[:48]
	}
	sum := blake3.Sum256([]byte(id))
	return prefix + "-" + hex.EncodeToString(sum[:16]) + regionExt
}
