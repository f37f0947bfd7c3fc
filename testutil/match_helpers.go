package testutil

import (
	"bytes"

	. "github.com/onsi/gomega"
)

// ExpectBytesEqual has much less overhead than gomega Equal for large byte
// chunks.
func ExpectBytesEqual(a, b []byte) {
	if !bytes.Equal(a, b) {
		ExpectWithOffset(1, a).To(Equal(b))
	}
}
