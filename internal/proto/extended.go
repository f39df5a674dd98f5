package proto

import (
	"github.com/cockroachdb/errors"

	"github.com/brindlecove/pgwire/internal/wire"
)

// DescribeTarget selects whether Describe/Close names a prepared statement
// or a portal.
type DescribeTarget byte

const (
	TargetStatement DescribeTarget = 'S'
	TargetPortal    DescribeTarget = 'P'
)

// ParseStep is one Parse message: SQL text plus optional explicit
// parameter type OIDs (a zero OID lets the server infer the type).
type ParseStep struct {
	Statement string
	SQL       string
	ParamOIDs []uint32
}

// BindStep is one Bind message binding parameter values to a portal.
type BindStep struct {
	Portal        string
	Statement     string
	ParamFormats  []int16
	Params        [][]byte // nil element == SQL NULL
	ResultFormats []int16
}

// ExecuteStep is one Execute message. MaxRows == 0 means "no limit".
type ExecuteStep struct {
	Portal  string
	MaxRows int32
}

// ExtendedQueryHandler receives the responses to a batch of pipelined
// extended-protocol messages, in wire order, up to and including the
// ReadyForQuery that follows a Sync.
type ExtendedQueryHandler interface {
	ParseComplete() error
	BindComplete() error
	ParameterDescription(oids []uint32) error
	RowDescription(desc *RowDescription) error
	NoData() error
	Row(fields []FieldValue) error
	PortalSuspended() error
	CommandComplete(tag CommandTag) error
	CloseComplete() error
}

// The extended protocol lets the client pipeline any number of
// Parse/Bind/Describe/Execute messages before a single Sync; the methods
// below just append to the wire and flush, matching that pipelining model
// instead of a request/response pair per call.

// Parse sends a Parse message for step.
func (c *Conn) Parse(step ParseStep) error {
	if err := c.checkPhase(PhaseReady, PhaseExtendedQuery); err != nil {
		return err
	}
	c.phase = PhaseExtendedQuery
	c.b.Reset()
	c.b.BeginTagged(wire.TagParse)
	c.b.AppendString(step.Statement)
	c.b.AppendString(step.SQL)
	c.b.AppendInt16(len(step.ParamOIDs))
	for _, oid := range step.ParamOIDs {
		c.b.AppendInt32(int(oid))
	}
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.flushOrAbort()
}

// Bind sends a Bind message for step. Bind, not just Parse, may start a
// fresh extended-query batch: a statement prepared in an earlier Sync'd
// batch is reused by binding it directly, with no accompanying Parse.
func (c *Conn) Bind(step BindStep) error {
	if err := c.checkPhase(PhaseReady, PhaseExtendedQuery); err != nil {
		return err
	}
	c.phase = PhaseExtendedQuery
	c.b.Reset()
	c.b.BeginTagged(wire.TagBind)
	c.b.AppendString(step.Portal)
	c.b.AppendString(step.Statement)

	c.b.AppendInt16(len(step.ParamFormats))
	for _, f := range step.ParamFormats {
		c.b.AppendInt16(int(f))
	}

	c.b.AppendInt16(len(step.Params))
	for _, param := range step.Params {
		c.b.AppendLengthPrefixedBytes(param)
	}

	c.b.AppendInt16(len(step.ResultFormats))
	for _, f := range step.ResultFormats {
		c.b.AppendInt16(int(f))
	}
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.flushOrAbort()
}

// Describe sends a Describe message for either a statement or a portal.
func (c *Conn) Describe(target DescribeTarget, name string) error {
	if err := c.checkPhase(PhaseExtendedQuery); err != nil {
		return err
	}
	c.b.Reset()
	c.b.BeginTagged(wire.TagDescribe)
	c.b.AppendByte(byte(target))
	c.b.AppendString(name)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.flushOrAbort()
}

// Execute sends an Execute message for step.
func (c *Conn) Execute(step ExecuteStep) error {
	if err := c.checkPhase(PhaseExtendedQuery); err != nil {
		return err
	}
	c.b.Reset()
	c.b.BeginTagged(wire.TagExecute)
	c.b.AppendString(step.Portal)
	c.b.AppendInt32(int(step.MaxRows))
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.flushOrAbort()
}

// CloseTarget sends a Close message for either a statement or a portal.
// Like Bind, it may start a fresh extended-query batch from PhaseReady.
func (c *Conn) CloseTarget(target DescribeTarget, name string) error {
	if err := c.checkPhase(PhaseReady, PhaseExtendedQuery); err != nil {
		return err
	}
	c.phase = PhaseExtendedQuery
	c.b.Reset()
	c.b.BeginTagged(wire.TagClose)
	c.b.AppendByte(byte(target))
	c.b.AppendString(name)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.flushOrAbort()
}

// Flush sends a Flush message, asking the server to send any pending
// responses now without ending the extended-query transaction (unlike
// Sync, it does not produce ReadyForQuery).
func (c *Conn) Flush() error {
	if err := c.checkPhase(PhaseExtendedQuery); err != nil {
		return err
	}
	c.b.Reset()
	c.b.BeginTagged(wire.TagFlush)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.flushOrAbort()
}

// Sync sends a Sync message, ending the current extended-query batch. The
// caller must still read responses (including the trailing ReadyForQuery)
// with ReadExtendedResponses; Sync itself only writes the request.
func (c *Conn) Sync() error {
	if err := c.checkPhase(PhaseExtendedQuery); err != nil {
		return err
	}
	c.b.Reset()
	c.b.BeginTagged(wire.TagSync)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.flushOrAbort()
}

func (c *Conn) flushOrAbort() error {
	if err := c.write(); err != nil {
		return c.abort(err)
	}
	return nil
}

// ReadExtendedResponses reads and dispatches messages to handler until the
// ReadyForQuery that follows a Sync. If the server sent one or more
// ErrorResponses (which it does for every message after the failing one,
// up to the next Sync — the protocol's flush-on-error behavior), the first
// is returned as the error once ReadyForQuery is reached; the caller is
// still expected to have sent Sync regardless of any earlier error.
func (c *Conn) ReadExtendedResponses(handler ExtendedQueryHandler) error {
	if err := c.checkPhase(PhaseExtendedQuery); err != nil {
		return err
	}
	var pending *ServerError
	for {
		tag, payload, err := c.readAsync()
		if err != nil {
			return c.abort(err)
		}
		p := wire.NewPayload(payload)
		switch tag {
		case wire.TagParseComplete:
			if err := handler.ParseComplete(); err != nil {
				return err
			}
		case wire.TagBindComplete:
			if err := handler.BindComplete(); err != nil {
				return err
			}
		case wire.TagParameterDescr:
			oids, err := readParameterDescription(p)
			if err != nil {
				return c.abort(err)
			}
			if err := handler.ParameterDescription(oids); err != nil {
				return err
			}
		case wire.TagRowDescription:
			desc, err := readRowDescription(p)
			if err != nil {
				return c.abort(err)
			}
			if err := handler.RowDescription(desc); err != nil {
				return err
			}
		case wire.TagNoData:
			if err := handler.NoData(); err != nil {
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
		case wire.TagPortalSuspended:
			if err := handler.PortalSuspended(); err != nil {
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
		case wire.TagCloseComplete:
			if err := handler.CloseComplete(); err != nil {
				return err
			}
		case wire.TagErrorResponse:
			fields, err := readServerFields(p)
			if err != nil {
				return c.abort(err)
			}
			if pending == nil {
				pending = &ServerError{Fields: fields}
			}
		case wire.TagReadyForQuery:
			status, err := p.ReadByte()
			if err != nil {
				return c.abort(err)
			}
			c.txStatus = status
			c.phase = PhaseReady
			return pending.orNil()
		default:
			return c.abort(errors.Newf("proto: unexpected message %q during extended query", tag))
		}
	}
}

func readParameterDescription(p *wire.Payload) ([]uint32, error) {
	n, err := p.ReadInt16()
	if err != nil {
		return nil, err
	}
	oids := make([]uint32, n)
	for i := range oids {
		oid, err := p.ReadInt32()
		if err != nil {
			return nil, err
		}
		oids[i] = uint32(oid)
	}
	return oids, nil
}
