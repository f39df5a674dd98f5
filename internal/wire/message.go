package wire

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrContainsNullByte = errors.New("wire: string argument contains an embedded null byte")
)

// Builder assembles one frontend message at a time into an internal buffer.
// Reset between messages; the zero value is ready to use.
type Builder struct {
	b            []byte
	lengthOffset int
	firstError   error
}

// Reset discards any partially built message and clears the last error.
func (b *Builder) Reset() {
	b.firstError = nil
	b.b = b.b[:0]
	b.lengthOffset = 0
}

// Bytes returns the built message. Valid only after Finalize succeeds.
func (b *Builder) Bytes() []byte { return b.b }

// BeginTagged starts a tagged message (all frontend messages after startup).
func (b *Builder) BeginTagged(tag byte) {
	if b.firstError != nil {
		return
	}
	b.b = append(b.b, tag)
	b.lengthOffset = len(b.b)
	b.b = append(b.b, 0, 0, 0, 0)
}

// BeginUntagged starts the one class of message with no leading tag byte:
// StartupMessage, SSLRequest, CancelRequest.
func (b *Builder) BeginUntagged() {
	if b.firstError != nil {
		return
	}
	b.lengthOffset = len(b.b)
	b.b = append(b.b, 0, 0, 0, 0)
}

func (b *Builder) AppendByte(v byte) {
	if b.firstError != nil {
		return
	}
	b.b = append(b.b, v)
}

func (b *Builder) AppendInt16(v int) {
	if b.firstError != nil {
		return
	}
	i16, err := SafeConvert[int, int16](v)
	if err != nil {
		b.firstError = err
		return
	}
	b.b = binary.BigEndian.AppendUint16(b.b, uint16(i16))
}

func (b *Builder) AppendInt32(v int) {
	if b.firstError != nil {
		return
	}
	i32, err := SafeConvert[int, int32](v)
	if err != nil {
		b.firstError = err
		return
	}
	b.b = binary.BigEndian.AppendUint32(b.b, uint32(i32))
}

// AppendString appends s followed by a null terminator, as required for
// every wire "String" field (identifiers, error fields, SQL text).
func (b *Builder) AppendString(s string) {
	if b.firstError != nil {
		return
	}
	if strings.IndexByte(s, 0) >= 0 {
		b.firstError = ErrContainsNullByte
		return
	}
	b.b = append(b.b, s...)
	b.b = append(b.b, 0)
}

// AppendLengthPrefixedBytes appends an int32 length followed by the raw
// bytes, or -1 with no payload when p is nil (the wire null marker).
func (b *Builder) AppendLengthPrefixedBytes(p []byte) {
	if b.firstError != nil {
		return
	}
	if p == nil {
		b.AppendInt32(-1)
		return
	}
	b.AppendInt32(len(p))
	b.b = append(b.b, p...)
}

// AppendRaw appends bytes verbatim, with no length prefix or terminator.
func (b *Builder) AppendRaw(p []byte) {
	if b.firstError != nil {
		return
	}
	b.b = append(b.b, p...)
}

// Finalize patches in the message length and returns the first error
// encountered while building, if any.
func (b *Builder) Finalize() error {
	if b.firstError != nil {
		return b.firstError
	}
	l, err := SafeConvert[int, uint32](len(b.b) - b.lengthOffset)
	if err != nil {
		b.firstError = err
		return err
	}
	binary.BigEndian.PutUint32(b.b[b.lengthOffset:], l)
	return nil
}

// nullByteIndex is used by the reader to find the terminator of a wire
// "String" field.
func nullByteIndex(b []byte) int {
	return bytes.IndexByte(b, 0)
}
