package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrTransportClosed is returned when the underlying stream is closed (or
// reset) before a complete frame could be read.
var ErrTransportClosed = errors.New("wire: transport closed mid-frame")

// ErrShortPayload is returned when a fixed-size field is decoded past the
// end of the current message payload; it always indicates either a server
// protocol violation or a coding bug in a caller that misread field order.
var ErrShortPayload = errors.New("wire: payload shorter than expected field")

const defaultReadBufferSize = 4096 * 16

// Reader frames backend messages off a byte stream, one per ReadMessage
// call. Reads go through a bufio.Reader with a 64 KiB window, which can
// hold several upcoming messages at once; the amount read ahead is not
// limited to one message. Most messages are
// served straight out of the underlying bufio.Reader's fixed window; a
// message too large for that window is read into its own freshly
// allocated buffer instead, since bufio.Reader.Peek cannot be grown past
// the size it was constructed with.
type Reader struct {
	r *bufio.Reader

	// payload aliases r's internal buffer; it is only valid until the next
	// call to ReadMessage, which discards it to make room for more.
	payload  []byte
	consumed int
}

// NewReader wraps r for frame-at-a-time reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, defaultReadBufferSize)}
}

// ReadMessage blocks until a complete backend frame is available and
// returns its tag and payload (excluding tag and length). The payload
// slice is only valid until the next call to ReadMessage.
func (r *Reader) ReadMessage() (tag byte, payload []byte, err error) {
	if r.consumed > 0 {
		if _, err := r.r.Discard(r.consumed); err != nil {
			return 0, nil, errors.Wrap(err, "wire: discarding previous frame")
		}
		r.consumed = 0
		r.payload = nil
	}

	header, err := r.r.Peek(5)
	if err != nil {
		return 0, nil, translateReadErr(err)
	}
	tag = header[0]
	length := binary.BigEndian.Uint32(header[1:5])
	total, err := SafeConvert[int64, int](int64(length) + 1)
	if err != nil {
		return 0, nil, errors.Wrap(err, "wire: message length overflows int")
	}

	if total <= r.r.Size() {
		full, err := r.r.Peek(total)
		if err != nil {
			return 0, nil, translateReadErr(err)
		}
		r.consumed = total
		r.payload = full[5:]
		return tag, r.payload, nil
	}
	return r.readOversized(tag, header, total)
}

// readOversized handles a message whose total length exceeds the
// bufio.Reader's fixed window: Peek would only ever return ErrBufferFull
// for it, so the header (already peeked into header) plus the remainder
// are copied into a buffer sized for exactly this one message.
func (r *Reader) readOversized(tag byte, header []byte, total int) (byte, []byte, error) {
	buf := make([]byte, total)
	copy(buf, header)
	if _, err := r.r.Discard(5); err != nil {
		return 0, nil, errors.Wrap(err, "wire: discarding message header")
	}
	if _, err := io.ReadFull(r.r, buf[5:]); err != nil {
		return 0, nil, translateReadErr(err)
	}
	r.consumed = 0
	r.payload = buf[5:]
	return tag, r.payload, nil
}

func translateReadErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Mark(errors.Wrap(err, "wire: connection closed while reading"), ErrTransportClosed)
	}
	return err
}

// Payload is a forward-only cursor over one message's decoded body.
type Payload struct {
	b []byte
}

// NewPayload wraps a raw message body for field-at-a-time decoding.
func NewPayload(b []byte) *Payload { return &Payload{b: b} }

func (p *Payload) Len() int { return len(p.b) }

func (p *Payload) ReadByte() (byte, error) {
	if len(p.b) < 1 {
		return 0, ErrShortPayload
	}
	v := p.b[0]
	p.b = p.b[1:]
	return v, nil
}

func (p *Payload) ReadInt16() (int, error) {
	if len(p.b) < 2 {
		return 0, ErrShortPayload
	}
	v := int(int16(binary.BigEndian.Uint16(p.b)))
	p.b = p.b[2:]
	return v, nil
}

func (p *Payload) ReadInt32() (int, error) {
	if len(p.b) < 4 {
		return 0, ErrShortPayload
	}
	v := int(int32(binary.BigEndian.Uint32(p.b)))
	p.b = p.b[4:]
	return v, nil
}

// ReadBytes reads n bytes, or the entire remainder when n < 0 (used for the
// SASL payloads, which are not length-prefixed within their message).
func (p *Payload) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		b := p.b
		p.b = nil
		return b, nil
	}
	if len(p.b) < n {
		return nil, ErrShortPayload
	}
	b := p.b[:n]
	p.b = p.b[n:]
	return b, nil
}

// ReadLengthPrefixedBytes reads the field format used for data row values:
// an int32 length, or -1 for a SQL NULL.
func (p *Payload) ReadLengthPrefixedBytes() (b []byte, isNull bool, err error) {
	n, err := p.ReadInt32()
	if err != nil {
		return nil, false, err
	}
	if n < 0 {
		return nil, true, nil
	}
	b, err = p.ReadBytes(n)
	return b, false, err
}

// ReadString reads a null-terminated string field, sanitizing it against
// the protocol's UTF-8 contract (client_encoding=UTF8): a proxy or a
// misbehaving extension can still put invalid bytes on the wire, and the
// callers that turn these fields into Go strings (names, command tags,
// notice and error text) assume valid UTF-8. Column values are read with
// ReadLengthPrefixedBytes and are not sanitized.
func (p *Payload) ReadString() ([]byte, error) {
	i := nullByteIndex(p.b)
	if i < 0 {
		return nil, ErrShortPayload
	}
	s := p.b[:i]
	p.b = p.b[i+1:]
	return sanitizeUTF8(s), nil
}

// sanitizeUTF8 replaces invalid UTF-8 sequences instead of failing
// outright: a garbled parameter name or notice message is still worth
// delivering. A fresh Decoder is used per call since Decoder carries
// per-transform state and Payloads from concurrent connections must not
// share one.
func sanitizeUTF8(b []byte) []byte {
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return b
	}
	return out
}
