package protocol

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/memcashew/memcashew/testutil"
)

var _ = Describe("request encode and parse", func() {
	It("round-trips a SET", func() {
		key := []byte("some_key")
		value := testutil.RandBytes(100)
		p := EncodeSet(key, value, 42)

		Expect(p).To(HaveLen(HeaderSize + SetExtrasSize + len(key) + len(value)))
		h := ParseRequestHeader(p)
		Expect(h.Magic).To(BeEquivalentTo(ReqMagic))
		Expect(h.Opcode).To(BeEquivalentTo(OpSet))
		Expect(h.KeyLen).To(BeEquivalentTo(len(key)))
		Expect(h.ExtLen).To(BeEquivalentTo(SetExtrasSize))
		Expect(h.BodyLen).To(BeEquivalentTo(SetExtrasSize + len(key) + len(value)))
		Expect(h.CAS).To(BeEquivalentTo(42))
		Expect(h.TotalLen()).To(Equal(len(p)))

		body := p[HeaderSize:]
		Expect(body[:SetExtrasSize]).To(Equal(make([]byte, SetExtrasSize)))
		Expect(body[SetExtrasSize : SetExtrasSize+len(key)]).To(Equal(key))
		testutil.ExpectBytesEqual(body[SetExtrasSize+len(key):], value)
	})

	It("round-trips a GET", func() {
		p := EncodeGet([]byte("k"))
		h := ParseRequestHeader(p)
		Expect(h.Opcode).To(BeEquivalentTo(OpGet))
		Expect(h.KeyLen).To(BeEquivalentTo(1))
		Expect(h.ExtLen).To(BeZero())
		Expect(h.BodyLen).To(BeEquivalentTo(1))
		Expect(h.CAS).To(BeZero())
	})

	It("round-trips a DELETE with cas", func() {
		p := EncodeDelete([]byte("key"), 999)
		h := ParseRequestHeader(p)
		Expect(h.Opcode).To(BeEquivalentTo(OpDelete))
		Expect(h.BodyLen).To(BeEquivalentTo(3))
		Expect(h.CAS).To(BeEquivalentTo(999))
	})

	It("writes multi-byte fields big-endian", func() {
		p := EncodeSet([]byte("ab"), nil, 0x0102030405060708)
		Expect(p[2:4]).To(Equal([]byte{0x00, 0x02}))                                     // keylen
		Expect(p[8:12]).To(Equal([]byte{0x00, 0x00, 0x00, 0x0a}))                        // bodylen
		Expect(p[16:24]).To(Equal([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})) // cas
	})
})

var _ = Describe("header validation", func() {
	valid := func() RequestHeader {
		return ParseRequestHeader(EncodeSet([]byte("key"), []byte("value"), 0))
	}

	It("accepts a well formed SET", func() {
		Expect(valid().Validate()).To(Equal(StatusNoError))
	})

	It("rejects zero keylen as too big for any opcode", func() {
		for _, opcode := range []uint8{OpGet, OpSet, OpDelete, 0x0a} {
			h := valid()
			h.Opcode = opcode
			h.KeyLen = 0
			Expect(h.Validate()).To(Equal(StatusTooBig), "opcode 0x%02x", opcode)
		}
	})

	It("rejects unknown opcodes", func() {
		h := valid()
		h.Opcode = 0x0a
		Expect(h.Validate()).To(Equal(StatusUnknownCommand))
	})

	Context("GET and DELETE", func() {
		get := func() RequestHeader { return ParseRequestHeader(EncodeGet([]byte("key"))) }

		It("accepts well formed requests", func() {
			Expect(get().Validate()).To(Equal(StatusNoError))
			Expect(ParseRequestHeader(EncodeDelete([]byte("key"), 0)).Validate()).
				To(Equal(StatusNoError))
		})
		It("rejects extras", func() {
			h := get()
			h.ExtLen = 4
			Expect(h.Validate()).To(Equal(StatusInvalid))
		})
		It("rejects bodies beyond the key", func() {
			h := get()
			h.BodyLen++
			Expect(h.Validate()).To(Equal(StatusInvalid))
		})
	})

	Context("SET", func() {
		It("rejects extras sizes other than 8", func() {
			h := valid()
			h.ExtLen = 4
			Expect(h.Validate()).To(Equal(StatusInvalid))
		})
		It("rejects bodies shorter than extras plus key", func() {
			h := valid()
			h.BodyLen = uint32(h.KeyLen) + SetExtrasSize - 1
			Expect(h.Validate()).To(Equal(StatusInvalid))
		})
		It("rejects too large keys", func() {
			h := ParseRequestHeader(EncodeSet(testutil.RandBytes(MaxKeySize+1), nil, 0))
			Expect(h.Validate()).To(Equal(StatusInvalid))
		})
		It("accepts keys at the limit", func() {
			h := ParseRequestHeader(EncodeSet(testutil.RandBytes(MaxKeySize), nil, 0))
			Expect(h.Validate()).To(Equal(StatusNoError))
		})
		It("rejects values over the limit as too big", func() {
			h := valid()
			h.BodyLen = uint32(h.KeyLen) + SetExtrasSize + MaxValueSize + 1
			Expect(h.Validate()).To(Equal(StatusTooBig))
		})
		It("accepts values at the limit", func() {
			h := valid()
			h.BodyLen = uint32(h.KeyLen) + SetExtrasSize + MaxValueSize
			Expect(h.Validate()).To(Equal(StatusNoError))
		})
	})
})

var _ = Describe("response build and parse", func() {
	It("copies opcode and opaque and echoes cas", func() {
		req := ParseRequestHeader(EncodeSet([]byte("key"), []byte("v"), 7))
		req.Opaque = 0xdeadbeef

		h := ParseResponseHeader(BuildResponse(req, 0, 0, StatusNoError, 0))
		Expect(h.Magic).To(BeEquivalentTo(ResMagic))
		Expect(h.Opcode).To(BeEquivalentTo(OpSet))
		Expect(h.Opaque).To(BeEquivalentTo(0xdeadbeef))
		Expect(h.CAS).To(BeEquivalentTo(7))
		Expect(h.Status).To(Equal(StatusNoError))
		Expect(h.BodyLen).To(BeZero())
	})

	It("carries its own lengths and status", func() {
		req := ParseRequestHeader(EncodeGet([]byte("key")))
		h := ParseResponseHeader(BuildResponse(req, 0, 14, StatusNoError, GetExtrasSize))
		Expect(h.ExtLen).To(BeEquivalentTo(GetExtrasSize))
		Expect(h.BodyLen).To(BeEquivalentTo(14))
		Expect(h.Status).To(Equal(StatusNoError))
	})

	It("builds error responses with the diagnostic body", func() {
		req := ParseRequestHeader(EncodeGet([]byte("nope")))
		p := BuildErrorResponse(req, StatusKeyNotFound)
		h := ParseResponseHeader(p)
		Expect(h.Status).To(Equal(StatusKeyNotFound))
		Expect(string(p[HeaderSize:])).To(Equal("Not found"))
		Expect(h.BodyLen).To(BeEquivalentTo(len("Not found")))
	})

	It("has a diagnostic for every failure status", func() {
		for _, status := range []Status{
			StatusKeyNotFound, StatusKeyExists, StatusTooBig, StatusInvalid, StatusUnknownCommand,
		} {
			Expect(status.Text()).NotTo(BeEmpty())
		}
		Expect(StatusNoError.Text()).To(BeEmpty())
	})
})
