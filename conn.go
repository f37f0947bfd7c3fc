package memcashew

import (
	"io"
	"sync"

	"github.com/facebookgo/stackerr"

	"github.com/memcashew/memcashew/cache"
	"github.com/memcashew/memcashew/executor"
	"github.com/memcashew/memcashew/log"
	"github.com/memcashew/memcashew/protocol"
)

// Conn carries one client connection through the framer and the command
// handlers. After the NEW task is posted, the connection is owned by its
// pinned executor; only that executor's worker touches it.
type Conn struct {
	rwc   io.ReadWriteCloser
	cache cache.Cache
	index int
	log   log.Logger

	// Accumulating request bytes and the header decoded from them.
	request []byte
	header  protocol.RequestHeader

	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

func NewConn(rwc io.ReadWriteCloser, c cache.Cache, index int, l log.Logger) *Conn {
	return &Conn{
		rwc:   rwc,
		cache: c,
		index: index,
		log:   l,
	}
}

var _ executor.Conn = (*Conn)(nil)

// ExecutorIndex is the executor this connection is pinned to. All tasks for
// the connection are routed there.
func (c *Conn) ExecutorIndex() int { return c.index }

// Ingest buffers one read chunk and processes the packet once complete.
// It returns false when the connection must be torn down: bad magic at the
// start of a packet, bytes beyond the declared body, or a failed response
// write.
func (c *Conn) Ingest(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	if len(c.request) == 0 && b[0] != protocol.ReqMagic {
		c.log.Debugf("Bad request magic 0x%x. Closing.", b[0])
		return false
	}
	c.request = append(c.request, b...)
	if len(c.request) < protocol.HeaderSize {
		return true
	}
	c.header = protocol.ParseRequestHeader(c.request)
	if status := c.header.Validate(); status != protocol.StatusNoError {
		// The invalid packet counts as fully consumed.
		keepOpen := c.writeError(status)
		c.reset()
		return keepOpen
	}
	total := c.header.TotalLen()
	if len(c.request) < total {
		return true
	}
	if len(c.request) > total {
		// No pipelining within a single ingest buffer.
		c.writeError(protocol.StatusInvalid)
		c.reset()
		return false
	}
	keepOpen := c.processPacket()
	c.reset()
	return keepOpen
}

func (c *Conn) processPacket() bool {
	c.log.Debugf("Packet: opcode 0x%02x, key %q.", c.header.Opcode, c.key())
	switch c.header.Opcode {
	case protocol.OpSet:
		return c.handleSet()
	case protocol.OpGet:
		return c.handleGet()
	case protocol.OpDelete:
		return c.handleDelete()
	default:
		return c.writeError(protocol.StatusUnknownCommand)
	}
}

func (c *Conn) handleSet() bool {
	e := cache.NewEntry(c.request, c.header)
	c.request = nil // Ownership moved into the entry.
	if c.header.CAS > 0 {
		if !c.cache.Cas(e, c.header.CAS) {
			return c.writeError(protocol.StatusKeyExists)
		}
	} else {
		c.cache.Set(e)
	}
	return c.writeResponse(protocol.BuildResponse(c.header, 0, 0, protocol.StatusNoError, 0))
}

func (c *Conn) handleGet() bool {
	e := c.cache.Get(c.key())
	if e == nil {
		return c.writeError(protocol.StatusKeyNotFound)
	}
	value := e.Value()
	bodyLen := uint32(protocol.GetExtrasSize + len(value))
	resp := protocol.BuildResponse(c.header, 0, bodyLen, protocol.StatusNoError, protocol.GetExtrasSize)
	var flags [protocol.GetExtrasSize]byte
	resp = append(resp, flags[:]...)
	resp = append(resp, value...)
	return c.writeResponse(resp)
}

func (c *Conn) handleDelete() bool {
	if !c.cache.Remove(c.key(), c.header.CAS) {
		return c.writeError(protocol.StatusKeyExists)
	}
	return c.writeResponse(protocol.BuildResponse(c.header, 0, 0, protocol.StatusNoError, 0))
}

// key slices the buffered packet. Valid until reset.
func (c *Conn) key() []byte {
	off := protocol.HeaderSize + int(c.header.ExtLen)
	return c.request[off : off+int(c.header.KeyLen)]
}

func (c *Conn) writeError(status protocol.Status) bool {
	c.log.Debugf("Request failed: %s.", status.Text())
	return c.writeResponse(protocol.BuildErrorResponse(c.header, status))
}

func (c *Conn) writeResponse(p []byte) bool {
	if _, err := c.rwc.Write(p); err != nil {
		c.log.Error("Response write error: ", stackerr.Wrap(err))
		return false
	}
	return true
}

// reset re-arms the framer for the next packet. Buffer capacity is kept
// unless it moved into an entry.
func (c *Conn) reset() {
	c.header = protocol.RequestHeader{}
	if c.request != nil {
		c.request = c.request[:0]
	}
}

// Close releases the socket. Safe to call more than once; the executor
// closes on teardown and the reader goroutine may race it.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
		if c.onClose != nil {
			c.onClose()
		}
		c.log.Debug("Connection closed.")
	})
	return c.closeErr
}
