// Package protocol implements the memcached binary protocol header codec:
// request parsing and validation, response building, and request encoding
// for clients and tests.
//
// All multi-byte fields are big-endian on the wire. Request body layout is
// extras[extlen] | key[keylen] | value[bodylen-extlen-keylen].
package protocol

import (
	"encoding/binary"
)

const (
	ReqMagic = 0x80
	ResMagic = 0x81

	// HeaderSize is the fixed size of request and response headers.
	HeaderSize = 24

	// SetExtrasSize is the extras size required on SET requests:
	// 4 byte flags and 4 byte exptime.
	SetExtrasSize = 8

	// GetExtrasSize is the extras size of GET responses: 4 byte flags.
	GetExtrasSize = 4

	MaxKeySize   = 250
	MaxValueSize = 1 << 20

	rawBytes = 0x00 // The only datatype we speak.
)

// Supported opcodes.
const (
	OpGet    = 0x00
	OpSet    = 0x01
	OpDelete = 0x04
)

type Status uint16

const (
	StatusNoError        Status = 0x00
	StatusKeyNotFound    Status = 0x01
	StatusKeyExists      Status = 0x02
	StatusTooBig         Status = 0x03
	StatusInvalid        Status = 0x04
	StatusUnknownCommand Status = 0x81
)

// Text returns the ASCII diagnostic sent as the body of error responses.
func (s Status) Text() string {
	switch s {
	case StatusKeyExists:
		return "Entry exists for key"
	case StatusKeyNotFound:
		return "Not found"
	case StatusInvalid:
		return "Bad parameters"
	case StatusUnknownCommand:
		return "Unsupported command"
	case StatusTooBig:
		return "Too large"
	}
	return ""
}

// RequestHeader is the decoded, host-endian request header.
type RequestHeader struct {
	Magic    uint8
	Opcode   uint8
	KeyLen   uint16
	ExtLen   uint8
	DataType uint8
	VBucket  uint16
	BodyLen  uint32
	Opaque   uint32
	CAS      uint64
}

// ParseRequestHeader decodes the first HeaderSize bytes of p.
// The caller must have checked len(p) >= HeaderSize.
func ParseRequestHeader(p []byte) RequestHeader {
	_ = p[HeaderSize-1]
	return RequestHeader{
		Magic:    p[0],
		Opcode:   p[1],
		KeyLen:   binary.BigEndian.Uint16(p[2:4]),
		ExtLen:   p[4],
		DataType: p[5],
		VBucket:  binary.BigEndian.Uint16(p[6:8]),
		BodyLen:  binary.BigEndian.Uint32(p[8:12]),
		Opaque:   binary.BigEndian.Uint32(p[12:16]),
		CAS:      binary.BigEndian.Uint64(p[16:24]),
	}
}

// TotalLen is the whole packet length the header declares.
func (h RequestHeader) TotalLen() int {
	return HeaderSize + int(h.BodyLen)
}

// Validate checks field combinations per opcode.
// Zero keylen is rejected as StatusTooBig before opcode dispatch,
// as the protocol reference behavior fixes it.
func (h RequestHeader) Validate() Status {
	if h.KeyLen == 0 {
		return StatusTooBig
	}
	switch h.Opcode {
	case OpGet, OpDelete:
		if h.ExtLen != 0 || h.BodyLen != uint32(h.KeyLen) {
			return StatusInvalid
		}
	case OpSet:
		if h.ExtLen != SetExtrasSize ||
			h.BodyLen < uint32(h.KeyLen)+SetExtrasSize ||
			h.KeyLen > MaxKeySize {
			return StatusInvalid
		}
		if h.BodyLen > MaxValueSize+uint32(h.KeyLen)+SetExtrasSize {
			return StatusTooBig
		}
	default:
		return StatusUnknownCommand
	}
	return StatusNoError
}

func (h RequestHeader) encode() []byte {
	p := make([]byte, HeaderSize)
	p[0] = h.Magic
	p[1] = h.Opcode
	binary.BigEndian.PutUint16(p[2:4], h.KeyLen)
	p[4] = h.ExtLen
	p[5] = h.DataType
	binary.BigEndian.PutUint16(p[6:8], h.VBucket)
	binary.BigEndian.PutUint32(p[8:12], h.BodyLen)
	binary.BigEndian.PutUint32(p[12:16], h.Opaque)
	binary.BigEndian.PutUint64(p[16:24], h.CAS)
	return p
}

// ResponseHeader is the decoded, host-endian response header.
type ResponseHeader struct {
	Magic    uint8
	Opcode   uint8
	KeyLen   uint16
	ExtLen   uint8
	DataType uint8
	Status   Status
	BodyLen  uint32
	Opaque   uint32
	CAS      uint64
}

// ParseResponseHeader decodes the first HeaderSize bytes of p.
// The caller must have checked len(p) >= HeaderSize.
func ParseResponseHeader(p []byte) ResponseHeader {
	_ = p[HeaderSize-1]
	return ResponseHeader{
		Magic:    p[0],
		Opcode:   p[1],
		KeyLen:   binary.BigEndian.Uint16(p[2:4]),
		ExtLen:   p[4],
		DataType: p[5],
		Status:   Status(binary.BigEndian.Uint16(p[6:8])),
		BodyLen:  binary.BigEndian.Uint32(p[8:12]),
		Opaque:   binary.BigEndian.Uint32(p[12:16]),
		CAS:      binary.BigEndian.Uint64(p[16:24]),
	}
}

// BuildResponse builds a response header for the given request: opcode and
// opaque are copied, the request cas is echoed. The returned slice has
// capacity for bodyLen more bytes, so callers append the body without
// another allocation.
func BuildResponse(req RequestHeader, keyLen uint16, bodyLen uint32, status Status, extLen uint8) []byte {
	p := make([]byte, HeaderSize, HeaderSize+int(bodyLen))
	p[0] = ResMagic
	p[1] = req.Opcode
	binary.BigEndian.PutUint16(p[2:4], keyLen)
	p[4] = extLen
	p[5] = rawBytes
	binary.BigEndian.PutUint16(p[6:8], uint16(status))
	binary.BigEndian.PutUint32(p[8:12], bodyLen)
	binary.BigEndian.PutUint32(p[12:16], req.Opaque)
	binary.BigEndian.PutUint64(p[16:24], req.CAS)
	return p
}

// BuildErrorResponse builds a complete error response whose body is the
// status diagnostic text.
func BuildErrorResponse(req RequestHeader, status Status) []byte {
	text := status.Text()
	p := BuildResponse(req, 0, uint32(len(text)), status, 0)
	return append(p, text...)
}

// EncodeSet encodes a complete SET request packet with zero flags and
// exptime. The cas token is carried in the header; the server stores it
// with the entry and compares on later CAS sets and deletes.
func EncodeSet(key, value []byte, cas uint64) []byte {
	var extras [SetExtrasSize]byte
	return encodeRequest(OpSet, extras[:], key, value, cas)
}

// EncodeGet encodes a complete GET request packet.
func EncodeGet(key []byte) []byte {
	return encodeRequest(OpGet, nil, key, nil, 0)
}

// EncodeDelete encodes a complete DELETE request packet. A non-zero cas
// makes the delete conditional on the stored token.
func EncodeDelete(key []byte, cas uint64) []byte {
	return encodeRequest(OpDelete, nil, key, nil, cas)
}

func encodeRequest(opcode uint8, extras, key, value []byte, cas uint64) []byte {
	h := RequestHeader{
		Magic:    ReqMagic,
		Opcode:   opcode,
		KeyLen:   uint16(len(key)),
		ExtLen:   uint8(len(extras)),
		DataType: rawBytes,
		BodyLen:  uint32(len(extras) + len(key) + len(value)),
		CAS:      cas,
	}
	p := h.encode()
	p = append(p, extras...)
	p = append(p, key...)
	return append(p, value...)
}
