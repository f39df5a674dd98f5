package proto

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/brindlecove/pgwire/internal/wire"
)

// SimpleQueryHandler receives the messages produced by a simple-protocol
// Query, in wire order. A simple query can contain several ;-separated
// statements; RowDescription/Row*/CommandComplete/EmptyQuery may each be
// called more than once per call to SimpleQuery, one set per statement.
type SimpleQueryHandler interface {
	RowDescription(desc *RowDescription) error
	Row(fields []FieldValue) error
	CommandComplete(tag CommandTag) error
	EmptyQuery() error

	// CopyInSource is called when the server asks the client to stream
	// COPY data; it must return a reader over the raw COPY payload, or nil
	// to send CopyFail instead.
	CopyInSource(columnFormats []int16) (io.Reader, error)
	// CopyOutData is called once per CopyData chunk during a COPY TO
	// STDOUT.
	CopyOutData(chunk []byte) error
}

// ErrBlankQuery is returned for a query string that is empty or all
// whitespace; the server does the same thing but the client can reject it
// without a round trip.
var ErrBlankQuery = errors.New("proto: blank query string")

const copyChunkSize = 32 * 1024

// SimpleQuery runs query through the simple query protocol, delivering
// results through handler, and blocks until the server's ReadyForQuery.
// A per-statement ServerError does not abort the whole call: it is
// delivered as the returned error only after ReadyForQuery is reached, so
// later statements in a multi-statement string still get a chance to run
// (matching how the server itself continues to the next ReadyForQuery).
func (c *Conn) SimpleQuery(query string, handler SimpleQueryHandler) error {
	if err := c.checkPhase(PhaseReady); err != nil {
		return err
	}
	if isBlank(query) {
		return ErrBlankQuery
	}

	c.b.Reset()
	c.b.BeginTagged(wire.TagQuery)
	c.b.AppendString(query)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	if err := c.write(); err != nil {
		return c.abort(err)
	}
	c.phase = PhaseSimpleQuery

	var pending *ServerError
	for {
		tag, payload, err := c.readAsync()
		if err != nil {
			return c.abort(err)
		}
		p := wire.NewPayload(payload)
		switch tag {
		case wire.TagRowDescription:
			desc, err := readRowDescription(p)
			if err != nil {
				return c.abort(err)
			}
			if err := handler.RowDescription(desc); err != nil {
				return err
			}
		case wire.TagDataRow:
			fields, err := readDataRow(p)
			if err != nil {
				return c.abort(err)
			}
			if err := handler.Row(fields); err != nil {
				return err
			}
		case wire.TagCommandComplete:
			tagStr, err := p.ReadString()
			if err != nil {
				return c.abort(err)
			}
			ct, err := parseCommandTag(string(tagStr))
			if err != nil {
				return c.abort(err)
			}
			if err := handler.CommandComplete(ct); err != nil {
				return err
			}
		case wire.TagEmptyQueryResponse:
			if err := handler.EmptyQuery(); err != nil {
				return err
			}
		case wire.TagCopyInResponse:
			if err := c.runCopyIn(p, handler); err != nil {
				return c.abort(err)
			}
		case wire.TagCopyOutResponse:
			if err := c.runCopyOut(handler); err != nil {
				var se *ServerError
				if !errors.As(err, &se) {
					return c.abort(err)
				}
				pending = se
			}
		case wire.TagErrorResponse:
			fields, err := readServerFields(p)
			if err != nil {
				return c.abort(err)
			}
			pending = &ServerError{Fields: fields}
		case wire.TagReadyForQuery:
			status, err := p.ReadByte()
			if err != nil {
				return c.abort(err)
			}
			c.txStatus = status
			c.phase = PhaseReady
			return pending.orNil()
		default:
			return c.abort(errors.Newf("proto: unexpected message %q during simple query", tag))
		}
	}
}

func (e *ServerError) orNil() error {
	if e == nil {
		return nil
	}
	return e
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		default:
			return false
		}
	}
	return true
}

func readRowDescription(p *wire.Payload) (*RowDescription, error) {
	n, err := p.ReadInt16()
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnDescriptor, n)
	for i := range cols {
		name, err := p.ReadString()
		if err != nil {
			return nil, err
		}
		tableOID, err := p.ReadInt32()
		if err != nil {
			return nil, err
		}
		attrNo, err := p.ReadInt16()
		if err != nil {
			return nil, err
		}
		typeOID, err := p.ReadInt32()
		if err != nil {
			return nil, err
		}
		typeSize, err := p.ReadInt16()
		if err != nil {
			return nil, err
		}
		typeMod, err := p.ReadInt32()
		if err != nil {
			return nil, err
		}
		formatCode, err := p.ReadInt16()
		if err != nil {
			return nil, err
		}
		cols[i] = ColumnDescriptor{
			Name:         string(name),
			TableOID:     uint32(tableOID),
			ColumnAttrNo: int16(attrNo),
			TypeOID:      uint32(typeOID),
			TypeSize:     int16(typeSize),
			TypeModifier: int32(typeMod),
			FormatCode:   int16(formatCode),
		}
	}
	return &RowDescription{Columns: cols}, nil
}

func readDataRow(p *wire.Payload) ([]FieldValue, error) {
	n, err := p.ReadInt16()
	if err != nil {
		return nil, err
	}
	fields := make([]FieldValue, n)
	for i := range fields {
		value, isNull, err := p.ReadLengthPrefixedBytes()
		if err != nil {
			return nil, err
		}
		fields[i] = FieldValue{Value: value, IsNull: isNull}
	}
	return fields, nil
}

// runCopyIn streams handler's source to the server as CopyData messages,
// ending with CopyDone, or CopyFail if the handler declines to provide one.
func (c *Conn) runCopyIn(p *wire.Payload, handler SimpleQueryHandler) error {
	formats, err := readCopyFormats(p)
	if err != nil {
		return err
	}
	src, err := handler.CopyInSource(formats)
	if err != nil {
		return err
	}
	if src == nil {
		return c.sendCopyFail("no COPY source provided")
	}

	buf := make([]byte, copyChunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			c.b.Reset()
			c.b.BeginTagged(wire.TagCopyData)
			c.b.AppendRaw(buf[:n])
			if err := c.b.Finalize(); err != nil {
				return err
			}
			if err := c.write(); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return c.sendCopyFail(readErr.Error())
		}
	}

	c.b.Reset()
	c.b.BeginTagged(wire.TagCopyDone)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.write()
}

func (c *Conn) sendCopyFail(reason string) error {
	c.b.Reset()
	c.b.BeginTagged(wire.TagCopyFail)
	c.b.AppendString(reason)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.write()
}

func readCopyFormats(p *wire.Payload) ([]int16, error) {
	if _, err := p.ReadByte(); err != nil { // overall format code, unused
		return nil, err
	}
	n, err := p.ReadInt16()
	if err != nil {
		return nil, err
	}
	formats := make([]int16, n)
	for i := range formats {
		f, err := p.ReadInt16()
		if err != nil {
			return nil, err
		}
		formats[i] = int16(f)
	}
	return formats, nil
}

// runCopyOut relays CopyData chunks to handler until CopyDone.
func (c *Conn) runCopyOut(handler SimpleQueryHandler) error {
	for {
		tag, payload, err := c.readAsync()
		if err != nil {
			return err
		}
		switch tag {
		case wire.TagCopyData:
			if err := handler.CopyOutData(payload); err != nil {
				return err
			}
		case wire.TagCopyDone:
			return nil
		case wire.TagErrorResponse:
			p := wire.NewPayload(payload)
			fields, err := readServerFields(p)
			if err != nil {
				return err
			}
			return &ServerError{Fields: fields}
		default:
			return errors.Newf("proto: unexpected message %q during COPY OUT", tag)
		}
	}
}
