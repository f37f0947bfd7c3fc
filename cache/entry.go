package cache

import (
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/memcashew/memcashew/protocol"
)

// Entry is one cached record. It owns the full raw SET packet it was stored
// from and a host-endian copy of its decoded header. The lru node reference
// locates the entry's position in the eviction order for O(1) promotion and
// removal.
type Entry struct {
	packet []byte
	header protocol.RequestHeader
	hash   uint32
	node   *node
}

// NewEntry builds an entry around packet, which must be a complete validated
// SET request. The entry takes ownership of packet; the caller must not
// reuse it.
func NewEntry(packet []byte, h protocol.RequestHeader) *Entry {
	e := &Entry{packet: packet, header: h}
	e.hash = murmur3.Sum32(e.Key())
	return e
}

func (e *Entry) Header() protocol.RequestHeader { return e.header }

// CAS is the token carried in the header at insert time. The server only
// compares it, never generates one.
func (e *Entry) CAS() uint64 { return e.header.CAS }

func (e *Entry) Key() []byte {
	off := protocol.HeaderSize + int(e.header.ExtLen)
	return e.packet[off : off+int(e.header.KeyLen)]
}

func (e *Entry) Extras() []byte {
	return e.packet[protocol.HeaderSize : protocol.HeaderSize+int(e.header.ExtLen)]
}

func (e *Entry) Value() []byte {
	return e.packet[protocol.HeaderSize+int(e.header.ExtLen)+int(e.header.KeyLen):]
}

// Size is the resident size accounted against capacity: the stored packet
// length.
func (e *Entry) Size() int64 { return int64(len(e.packet)) }

func (e *Entry) GoString() string {
	return fmt.Sprintf("{key:%q, cas:%v, size:%v}", e.Key(), e.CAS(), e.Size())
}
