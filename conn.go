package pgwire

import (
	"context"
	"crypto/tls"
	"io"
	"log"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/brindlecove/pgwire/internal/pgtype"
	"github.com/brindlecove/pgwire/internal/proto"
	"github.com/brindlecove/pgwire/internal/wire"
)

// CommandType and CommandTag are re-exported from the connection state
// machine unchanged: a CommandComplete tag carries no application-type
// concerns, so there is nothing for the façade to translate.
type (
	CommandType = proto.CommandType
	CommandTag  = proto.CommandTag
)

const (
	CommandUnknown = proto.CommandUnknown
	CommandInsert  = proto.CommandInsert
	CommandDelete  = proto.CommandDelete
	CommandUpdate  = proto.CommandUpdate
	CommandSelect  = proto.CommandSelect
	CommandMove    = proto.CommandMove
	CommandFetch   = proto.CommandFetch
	CommandCopy    = proto.CommandCopy
)

// Phase mirrors the connection state machine's phase for callers that want
// to inspect it (e.g. before deciding whether a connection is worth
// returning to a pool).
type Phase = proto.Phase

const (
	PhaseConnecting     = proto.PhaseConnecting
	PhaseStartup        = proto.PhaseStartup
	PhaseAuthenticating = proto.PhaseAuthenticating
	PhaseReady          = proto.PhaseReady
	PhaseSimpleQuery    = proto.PhaseSimpleQuery
	PhaseExtendedQuery  = proto.PhaseExtendedQuery
	PhaseCopyIn         = proto.PhaseCopyIn
	PhaseCopyOut        = proto.PhaseCopyOut
	PhaseTerminating    = proto.PhaseTerminating
	PhaseFatal          = proto.PhaseFatal
)

// Conn is one authenticated connection: the wire state machine plus the
// value-converter registry needed to turn raw column bytes into typed Go
// values. It is not safe for concurrent use, mirroring the one-request-at-
// a-time discipline of the underlying protocol.
type Conn struct {
	raw      *proto.Conn
	registry *pgtype.Registry
	cfg      Config
	logger   zerolog.Logger
}

// Connect dials cfg's address, negotiates SSL per cfg.SSLMode, and runs the
// startup and authentication handshake. registry may be nil to use
// pgtype.NewDefaultRegistry().
func Connect(ctx context.Context, cfg Config, registry *pgtype.Registry) (*Conn, error) {
	cfg = cfg.withDefaults()
	if registry == nil {
		registry = pgtype.NewDefaultRegistry()
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", cfg.address())
	if err != nil {
		return nil, errors.Wrap(err, "pgwire: dial")
	}

	nc, err = negotiateSSL(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}

	params := proto.StartupParams{
		User:          cfg.User,
		Password:      cfg.Password,
		Database:      cfg.Database,
		RuntimeParams: startupRuntimeParams(cfg),
	}

	raw, err := proto.Connect(nc, params)
	if err != nil {
		return nil, translateConnectErr(err)
	}
	if d := cfg.IOTimeout; d > 0 {
		_ = raw.SetDeadline(deadlineFrom(d))
	}

	c := &Conn{raw: raw, registry: registry, cfg: cfg, logger: cfg.logger()}
	raw.OnNotice = c.dispatchNotice
	raw.OnNotification = c.dispatchNotification
	return c, nil
}

func deadlineFrom(d time.Duration) time.Time { return time.Now().Add(d) }

func startupRuntimeParams(cfg Config) map[string]string {
	params := make(map[string]string, len(cfg.AdditionalStartupParams)+2)
	for k, v := range cfg.AdditionalStartupParams {
		params[k] = v
	}
	params["client_encoding"] = "UTF8"
	params["DateStyle"] = "ISO"
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}
	return params
}

// negotiateSSL sends the SSLRequest, reads the single-byte reply, and on
// 'S' hands the stream to crypto/tls. Certificate policy beyond that is
// deliberately shallow (InsecureSkipVerify unless sslmode=require); full
// certificate chain configuration is out of scope for this handshake.
func negotiateSSL(nc net.Conn, cfg Config) (net.Conn, error) {
	if cfg.SSLMode == SSLDisable {
		return nc, nil
	}

	var b wire.Builder
	b.BeginUntagged()
	b.AppendInt32(int(wire.SSLRequestCode))
	if err := b.Finalize(); err != nil {
		return nc, errors.Wrap(err, "pgwire: build SSLRequest")
	}
	if _, err := nc.Write(b.Bytes()); err != nil {
		return nc, errors.Wrap(err, "pgwire: send SSLRequest")
	}

	var resp [1]byte
	if _, err := io.ReadFull(nc, resp[:]); err != nil {
		return nc, errors.Wrap(err, "pgwire: read SSLRequest response")
	}

	switch resp[0] {
	case 'S':
		tlsConn := tls.Client(nc, &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.SSLMode != SSLRequire,
		})
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			return nc, errors.Wrap(err, "pgwire: tls handshake")
		}
		return tlsConn, nil
	case 'N':
		if cfg.SSLMode == SSLRequire {
			return nc, errors.New("pgwire: server refused SSL under sslmode=require")
		}
		return nc, nil
	default:
		return nc, errors.Newf("pgwire: unexpected SSLRequest reply byte %q", resp[0])
	}
}

func translateConnectErr(err error) error {
	var authErr *proto.AuthFailedError
	if errors.As(err, &authErr) {
		return &AuthFailedError{Fields: toServerErrorFields(authErr.Fields)}
	}
	if errors.Is(err, proto.ErrUnsupportedAuth) {
		return errors.Mark(err, ErrUnsupportedAuth)
	}
	return errors.Mark(err, ErrConnectionLost)
}

func toServerErrorFields(f proto.ServerFields) ServerErrorFields {
	return ServerErrorFields{
		SeverityLocalized: f.SeverityLocalized,
		Severity:          f.Severity,
		Code:              f.Code,
		Message:           f.Message,
		Detail:            f.Detail,
		Hint:              f.Hint,
		Position:          f.Position,
		InternalPosition:  f.InternalPosition,
		InternalQuery:     f.InternalQuery,
		Where:             f.Where,
		SchemaName:        f.SchemaName,
		TableName:         f.TableName,
		ColumnName:        f.ColumnName,
		DataTypeName:      f.DataTypeName,
		ConstraintName:    f.ConstraintName,
		File:              f.File,
		Line:              f.Line,
		Routine:           f.Routine,
		Additional:        f.Additional,
	}
}

// dispatchNotice runs on every NoticeResponse, on whatever goroutine is
// currently reading the wire (see internal/proto's async read choke
// point). It never blocks on application code taking long: handlers are
// expected to be fast, same as the default log.Printf sink below.
func (c *Conn) dispatchNotice(f proto.ServerFields) {
	n := &Notice{Fields: toServerErrorFields(f)}
	if c.cfg.NoticeHandler != nil {
		c.cfg.NoticeHandler(n)
		return
	}
	log.Printf("pgwire: notice: %s", n.String())
}

func (c *Conn) dispatchNotification(pid int32, channel, payload string) {
	if c.cfg.NotificationHandler != nil {
		c.cfg.NotificationHandler(pid, channel, payload)
		return
	}
	c.logger.Info().Int32("pid", pid).Str("channel", channel).Msg("pgwire: undelivered notification dropped")
}

// Close terminates the connection.
func (c *Conn) Close() error { return c.raw.Close() }

// Phase reports the connection's current protocol phase.
func (c *Conn) Phase() Phase { return c.raw.Phase() }

// TxStatus reports the transaction status byte from the most recent
// ReadyForQuery ('I', 'T', or 'E').
func (c *Conn) TxStatus() byte { return c.raw.TxStatus() }

// ProcessID and SecretKey identify this backend for CancelRequest.
func (c *Conn) ProcessID() int32 { return c.raw.ProcessID() }
func (c *Conn) SecretKey() int32 { return c.raw.SecretKey() }

// Cancel opens a fresh connection to remoteAddr and asks the server to
// cancel whatever this connection's backend is currently doing.
func (c *Conn) Cancel(remoteAddr string) error {
	return c.raw.Cancel(func(network, addr string) (net.Conn, error) {
		return net.Dial(network, addr)
	}, remoteAddr)
}

// ResultSet is one statement's worth of a multi-statement simple query, or
// the sole result of a single extended-protocol Execute.
type ResultSet struct {
	Description *RowDescription
	Rows        []*Row
	Tag         CommandTag
	Empty       bool
}

// Query runs sql through the simple query protocol and collects every
// result set it produces (a semicolon-separated string can produce more
// than one). A per-statement ServerError is returned alongside whatever
// result sets preceded it; the connection itself remains usable.
func (c *Conn) Query(sql string) ([]*ResultSet, error) {
	h := &collectingHandler{}
	err := c.raw.SimpleQuery(sql, h)
	return h.sets, translateQueryErr(err)
}

// QueryRow runs sql expecting exactly one result set and returns its rows;
// it is a convenience wrapper over Query for the common single-statement
// case.
func (c *Conn) QueryRow(sql string) (*ResultSet, error) {
	sets, err := c.Query(sql)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return &ResultSet{Empty: true}, nil
	}
	return sets[0], nil
}

func translateQueryErr(err error) error {
	if err == nil {
		return nil
	}
	var se *proto.ServerError
	if errors.As(err, &se) {
		return &ServerError{Fields: toServerErrorFields(se.Fields)}
	}
	return errors.Mark(err, ErrConnectionLost)
}

// collectingHandler adapts proto.SimpleQueryHandler to build up []*ResultSet
// (and the public Row/RowDescription types from row.go) instead of
// streaming to per-message callbacks; most callers want the whole answer,
// not a push interface.
type collectingHandler struct {
	sets []*ResultSet
	cur  *ResultSet
	desc *RowDescription
}

func (h *collectingHandler) RowDescription(d *proto.RowDescription) error {
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
	h.cur = &ResultSet{Description: h.desc}
	h.sets = append(h.sets, h.cur)
	return nil
}

func (h *collectingHandler) Row(fields []proto.FieldValue) error {
	if h.cur == nil {
		h.cur = &ResultSet{}
		h.sets = append(h.sets, h.cur)
	}
	row := &Row{Description: h.desc, Fields: make([]Field, len(fields))}
	for i, f := range fields {
		row.Fields[i] = Field{Value: f.Value, IsNull: f.IsNull}
	}
	h.cur.Rows = append(h.cur.Rows, row)
	return nil
}

func (h *collectingHandler) CommandComplete(tag proto.CommandTag) error {
	if h.cur == nil {
		h.cur = &ResultSet{}
		h.sets = append(h.sets, h.cur)
	}
	h.cur.Tag = tag
	h.cur, h.desc = nil, nil
	return nil
}

func (h *collectingHandler) EmptyQuery() error {
	h.sets = append(h.sets, &ResultSet{Empty: true})
	h.cur, h.desc = nil, nil
	return nil
}

func (h *collectingHandler) CopyInSource([]int16) (io.Reader, error) { return nil, nil }
func (h *collectingHandler) CopyOutData([]byte) error                { return nil }

// Get resolves ref against row using this connection's registry.
func (c *Conn) Get(row *Row, ref ColumnRef, targetType string) (any, error) {
	return Get(c.registry, row, ref, targetType)
}
