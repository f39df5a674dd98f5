package pgwire

import (
	"github.com/cockroachdb/errors"

	"github.com/brindlecove/pgwire/internal/proto"
)

// Statement is a server-side prepared statement, named at Prepare time.
// The empty name is the "unnamed statement" the protocol reserves for
// throwaway, single-use queries.
type Statement struct {
	Name      string
	SQL       string
	ParamOIDs []uint32
}

// ExecuteParams binds one set of parameter values (and result format
// choices) to a Statement for a single Execute. Portal is almost always
// left empty (the unnamed portal); a named portal only matters when a
// result set needs to survive across multiple Execute calls with a row
// limit, which this façade does not otherwise expose.
type ExecuteParams struct {
	Portal        string
	ParamFormats  []int16
	Params        [][]byte // nil element == SQL NULL
	ResultFormats []int16
	MaxRows       int32
}

// Prepare parses sql into a named (or, if name == "", unnamed) prepared
// statement and asks the server for its inferred parameter types. It
// sends its own Sync and reads back to ReadyForQuery before returning, so
// the connection is back in the ready phase and Query/Execute can be
// used immediately afterward.
func (c *Conn) Prepare(name, sql string, paramOIDs []uint32) (*Statement, error) {
	if err := c.raw.Parse(proto.ParseStep{Statement: name, SQL: sql, ParamOIDs: paramOIDs}); err != nil {
		return nil, translateQueryErr(err)
	}
	if err := c.raw.Describe(proto.TargetStatement, name); err != nil {
		return nil, translateQueryErr(err)
	}
	if err := c.raw.Sync(); err != nil {
		return nil, translateQueryErr(err)
	}

	h := &prepareHandler{}
	if err := c.raw.ReadExtendedResponses(h); err != nil {
		return nil, translateQueryErr(err)
	}
	oids := paramOIDs
	if h.paramOIDs != nil {
		oids = h.paramOIDs
	}
	return &Statement{Name: name, SQL: sql, ParamOIDs: oids}, nil
}

// Execute binds params to stmt and runs it through Bind/Execute/Sync,
// collecting the single result set produced. Unlike Query, Execute never
// returns more than one ResultSet: the extended protocol has no
// equivalent of the simple protocol's semicolon-separated multi-statement
// batching.
func (c *Conn) Execute(stmt *Statement, params ExecuteParams) (*ResultSet, error) {
	bind := proto.BindStep{
		Portal:        params.Portal,
		Statement:     stmt.Name,
		ParamFormats:  params.ParamFormats,
		Params:        params.Params,
		ResultFormats: params.ResultFormats,
	}
	if err := c.raw.Bind(bind); err != nil {
		return nil, translateQueryErr(err)
	}
	if err := c.raw.Execute(proto.ExecuteStep{Portal: params.Portal, MaxRows: params.MaxRows}); err != nil {
		return nil, translateQueryErr(err)
	}
	if err := c.raw.Sync(); err != nil {
		return nil, translateQueryErr(err)
	}

	h := &executeHandler{}
	err := c.raw.ReadExtendedResponses(h)
	rs := &ResultSet{Description: h.desc, Rows: h.rows, Tag: h.tag, Empty: h.noData && h.tag.Command == proto.CommandUnknown}
	return rs, translateQueryErr(err)
}

// ClosePreparedStatement releases a statement (or, with name == "", the
// unnamed statement's plan) on the server side.
func (c *Conn) ClosePreparedStatement(name string) error {
	if err := c.raw.CloseTarget(proto.TargetStatement, name); err != nil {
		return translateQueryErr(err)
	}
	if err := c.raw.Sync(); err != nil {
		return translateQueryErr(err)
	}
	return translateQueryErr(c.raw.ReadExtendedResponses(&discardHandler{}))
}

// prepareHandler captures the ParameterDescription from a Parse+Describe
// batch; every other message in that batch is either boilerplate
// (ParseComplete) or not something Prepare asked for.
type prepareHandler struct {
	paramOIDs []uint32
}

func (h *prepareHandler) ParseComplete() error { return nil }
func (h *prepareHandler) BindComplete() error  { return errors.New("pgwire: unexpected BindComplete during Prepare") }
func (h *prepareHandler) ParameterDescription(oids []uint32) error {
	h.paramOIDs = oids
	return nil
}
func (h *prepareHandler) RowDescription(*proto.RowDescription) error { return nil }
func (h *prepareHandler) NoData() error                              { return nil }
func (h *prepareHandler) Row([]proto.FieldValue) error {
	return errors.New("pgwire: unexpected Row during Prepare")
}
func (h *prepareHandler) PortalSuspended() error { return nil }
func (h *prepareHandler) CommandComplete(proto.CommandTag) error {
	return errors.New("pgwire: unexpected CommandComplete during Prepare")
}
func (h *prepareHandler) CloseComplete() error { return nil }

// executeHandler collects one Bind+Execute's worth of responses into the
// same public ResultSet shape Query produces.
type executeHandler struct {
	desc   *RowDescription
	rows   []*Row
	tag    proto.CommandTag
	noData bool
}

func (h *executeHandler) ParseComplete() error {
	return errors.New("pgwire: unexpected ParseComplete during Execute")
}
func (h *executeHandler) BindComplete() error { return nil }
func (h *executeHandler) ParameterDescription([]uint32) error {
	return errors.New("pgwire: unexpected ParameterDescription during Execute")
}
func (h *executeHandler) RowDescription(d *proto.RowDescription) error {
	cols := make([]ColumnDescriptor, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = ColumnDescriptor{
			Index:                 i,
			Name:                  c.Name,
			TableOID:              c.TableOID,
			ColumnAttributeNumber: int(c.ColumnAttrNo),
			DataTypeOID:           c.TypeOID,
			TypeSize:              c.TypeSize,
			TypeModifier:          c.TypeModifier,
			FormatCode:            c.FormatCode,
		}
	}
	h.desc = NewRowDescription(cols)
	return nil
}
func (h *executeHandler) NoData() error {
	h.noData = true
	return nil
}
func (h *executeHandler) Row(fields []proto.FieldValue) error {
	row := &Row{Description: h.desc, Fields: make([]Field, len(fields))}
	for i, f := range fields {
		row.Fields[i] = Field{Value: f.Value, IsNull: f.IsNull}
	}
	h.rows = append(h.rows, row)
	return nil
}
func (h *executeHandler) PortalSuspended() error { return nil }
func (h *executeHandler) CommandComplete(tag proto.CommandTag) error {
	h.tag = tag
	return nil
}
func (h *executeHandler) CloseComplete() error { return nil }

// discardHandler is used where the caller only needs the batch drained
// and errors surfaced, with no interest in any of the response payloads
// (CloseTarget, Flush-only batches).
type discardHandler struct{}

func (discardHandler) ParseComplete() error                       { return nil }
func (discardHandler) BindComplete() error                        { return nil }
func (discardHandler) ParameterDescription([]uint32) error        { return nil }
func (discardHandler) RowDescription(*proto.RowDescription) error { return nil }
func (discardHandler) NoData() error                              { return nil }
func (discardHandler) Row([]proto.FieldValue) error                { return nil }
func (discardHandler) PortalSuspended() error                     { return nil }
func (discardHandler) CommandComplete(proto.CommandTag) error     { return nil }
func (discardHandler) CloseComplete() error                       { return nil }
