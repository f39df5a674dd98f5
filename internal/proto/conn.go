// Package proto drives the frontend/backend connection state machine on
// top of the wire package's frame codec: startup, authentication, the
// simple and extended query flows, and the asynchronous messages that can
// interleave with all of them.
package proto

import (
	"io"
	"math"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/brindlecove/pgwire/internal/wire"
)

// Phase tracks where a Conn is in its lifecycle. Every operation other than
// Close checks it is called from the right phase; calling one from the
// wrong phase is a programming error in the caller, not a wire condition.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseStartup
	PhaseAuthenticating
	PhaseReady
	PhaseSimpleQuery
	PhaseExtendedQuery
	PhaseCopyIn
	PhaseCopyOut
	PhaseTerminating
	PhaseFatal
)

var (
	// ErrWrongPhase is returned when an operation is attempted from a Phase
	// that does not support it.
	ErrWrongPhase = errors.New("proto: operation not valid in current phase")
	// ErrFatal is wrapped around whatever error first put a Conn into
	// PhaseFatal; every subsequent call fails with the same cause.
	ErrFatal = errors.New("proto: connection is in a fatal state")
)

// ColumnDescriptor is one entry of a RowDescription, in server wire order.
type ColumnDescriptor struct {
	Name         string
	TableOID     uint32
	ColumnAttrNo int16
	TypeOID      uint32
	TypeSize     int16
	TypeModifier int32
	FormatCode   int16
}

// RowDescription is the ordered column set for one result set.
type RowDescription struct {
	Columns []ColumnDescriptor
}

// FieldValue is one column's raw wire value within a DataRow.
type FieldValue struct {
	Value  []byte
	IsNull bool
}

// CommandTag is the parsed contents of a CommandComplete message.
type CommandTag struct {
	Command CommandType
	Rows    int64
}

// ServerFields mirrors the field set common to ErrorResponse and
// NoticeResponse (see the protocol-error-fields documentation).
type ServerFields struct {
	SeverityLocalized string
	Severity          string
	Code              string
	Message           string
	Detail            string
	Hint              string
	Position          string
	InternalPosition  string
	InternalQuery     string
	Where             string
	SchemaName        string
	TableName         string
	ColumnName        string
	DataTypeName      string
	ConstraintName    string
	File              string
	Line              string
	Routine           string
	Additional        map[byte]string
}

func (f *ServerFields) assign(typ byte, value string) {
	switch typ {
	case 'S':
		f.SeverityLocalized = value
	case 'V':
		f.Severity = value
	case 'C':
		f.Code = value
	case 'M':
		f.Message = value
	case 'D':
		f.Detail = value
	case 'H':
		f.Hint = value
	case 'P':
		f.Position = value
	case 'p':
		f.InternalPosition = value
	case 'q':
		f.InternalQuery = value
	case 'W':
		f.Where = value
	case 's':
		f.SchemaName = value
	case 't':
		f.TableName = value
	case 'c':
		f.ColumnName = value
	case 'd':
		f.DataTypeName = value
	case 'n':
		f.ConstraintName = value
	case 'F':
		f.File = value
	case 'L':
		f.Line = value
	case 'R':
		f.Routine = value
	default:
		if f.Additional == nil {
			f.Additional = make(map[byte]string)
		}
		f.Additional[typ] = value
	}
}

// ServerError is a per-query ErrorResponse. Receiving one during a query
// does not move the Conn to PhaseFatal; the caller sees it as a returned
// error and the Conn keeps running once the pending Sync drains.
type ServerError struct {
	Fields ServerFields
}

func (e *ServerError) Error() string {
	return "proto: server error: " + e.Fields.Severity + ": " + e.Fields.Message
}

// NoticeHandler receives NoticeResponse messages as they arrive.
type NoticeHandler func(ServerFields)

// NotificationHandler receives asynchronous LISTEN/NOTIFY payloads.
type NotificationHandler func(pid int32, channel, payload string)

// ParameterStatusHandler receives ParameterStatus updates, both the initial
// batch sent at startup and any later change (e.g. a runtime SET).
type ParameterStatusHandler func(name, value string)

// Conn drives one physical connection's protocol state machine. It is not
// safe for concurrent use: the simple and extended query flows, like the
// wire protocol itself, are strictly one-request-at-a-time.
type Conn struct {
	nc net.Conn
	r  *wire.Reader
	b  wire.Builder

	phase    Phase
	txStatus byte
	fatal    error

	processID int32
	secretKey int32

	parameterStatuses map[string]string

	OnNotice       NoticeHandler
	OnNotification NotificationHandler
	OnParamStatus  ParameterStatusHandler
}

// StartupParams configures a new connection's StartupMessage and
// authentication credentials.
type StartupParams struct {
	User     string
	Password string
	Database string
	// RuntimeParams are additional startup parameters (e.g.
	// application_name, search_path) sent verbatim.
	RuntimeParams map[string]string
}

// Connect performs the startup handshake and authentication exchange over
// an already-dialed (and, if desired, already-TLS-wrapped) net.Conn. On
// success the returned Conn is in PhaseReady.
func Connect(nc net.Conn, params StartupParams) (*Conn, error) {
	c := &Conn{
		nc:                nc,
		r:                 wire.NewReader(nc),
		phase:             PhaseStartup,
		parameterStatuses: make(map[string]string),
	}

	if err := c.sendStartup(params); err != nil {
		return nil, c.abort(err)
	}

	c.phase = PhaseAuthenticating
	if err := c.authenticate(params); err != nil {
		return nil, c.abort(err)
	}

	if err := c.awaitReady(); err != nil {
		return nil, c.abort(err)
	}

	c.phase = PhaseReady
	return c, nil
}

func (c *Conn) sendStartup(params StartupParams) error {
	c.b.Reset()
	c.b.BeginUntagged()
	c.b.AppendInt32(int(wire.ProtocolVersion))
	c.b.AppendString("user")
	c.b.AppendString(params.User)
	if params.Database != "" {
		c.b.AppendString("database")
		c.b.AppendString(params.Database)
	}
	for k, v := range params.RuntimeParams {
		c.b.AppendString(k)
		c.b.AppendString(v)
	}
	c.b.AppendByte(0)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.write()
}

func (c *Conn) write() error {
	_, err := c.nc.Write(c.b.Bytes())
	return err
}

// awaitReady consumes messages up to and including ReadyForQuery, handling
// BackendKeyData, ParameterStatus and NoticeResponse along the way. It is
// used at the end of startup; the query flows read their own ReadyForQuery.
func (c *Conn) awaitReady() error {
	for {
		tag, payload, err := c.r.ReadMessage()
		if err != nil {
			return err
		}
		p := wire.NewPayload(payload)
		switch tag {
		case wire.TagBackendKeyData:
			pid, err := p.ReadInt32()
			if err != nil {
				return err
			}
			secret, err := p.ReadInt32()
			if err != nil {
				return err
			}
			c.processID, c.secretKey = int32(pid), int32(secret)
		case wire.TagParameterStatus:
			if err := c.handleParameterStatus(p); err != nil {
				return err
			}
		case wire.TagNoticeResponse:
			if err := c.handleNotice(p); err != nil {
				return err
			}
		case wire.TagReadyForQuery:
			status, err := p.ReadByte()
			if err != nil {
				return err
			}
			c.txStatus = status
			return nil
		case wire.TagErrorResponse:
			fields, err := readServerFields(p)
			if err != nil {
				return err
			}
			return &ServerError{Fields: fields}
		default:
			return errors.Newf("proto: unexpected message %q while awaiting ready", tag)
		}
	}
}

func (c *Conn) handleParameterStatus(p *wire.Payload) error {
	name, err := p.ReadString()
	if err != nil {
		return err
	}
	value, err := p.ReadString()
	if err != nil {
		return err
	}
	c.parameterStatuses[string(name)] = string(value)
	if c.OnParamStatus != nil {
		c.OnParamStatus(string(name), string(value))
	}
	return nil
}

func (c *Conn) handleNotice(p *wire.Payload) error {
	fields, err := readServerFields(p)
	if err != nil {
		return err
	}
	if c.OnNotice != nil {
		c.OnNotice(fields)
	}
	return nil
}

func (c *Conn) handleNotification(p *wire.Payload) error {
	pid, err := p.ReadInt32()
	if err != nil {
		return err
	}
	channel, err := p.ReadString()
	if err != nil {
		return err
	}
	payload, err := p.ReadString()
	if err != nil {
		return err
	}
	if c.OnNotification != nil {
		c.OnNotification(int32(pid), string(channel), string(payload))
	}
	return nil
}

func readServerFields(p *wire.Payload) (ServerFields, error) {
	var f ServerFields
	for {
		typ, err := p.ReadByte()
		if err != nil {
			return f, err
		}
		if typ == 0 {
			return f, nil
		}
		value, err := p.ReadString()
		if err != nil {
			return f, err
		}
		f.assign(typ, string(value))
	}
}

// Phase returns the connection's current lifecycle phase.
func (c *Conn) Phase() Phase { return c.phase }

// TxStatus returns the last reported transaction status byte: 'I' idle,
// 'T' in a transaction, 'E' in a failed transaction.
func (c *Conn) TxStatus() byte { return c.txStatus }

// ProcessID and SecretKey identify this backend for CancelRequest.
func (c *Conn) ProcessID() int32 { return c.processID }
func (c *Conn) SecretKey() int32 { return c.secretKey }

// ParameterStatus returns the last known value of a runtime parameter.
func (c *Conn) ParameterStatus(name string) (string, bool) {
	v, ok := c.parameterStatuses[name]
	return v, ok
}

// SetDeadline sets a read/write deadline on the underlying transport,
// giving callers (notably the pool's validation step and borrow timeout)
// a way to bound a call without threading a context through every wire
// read. A zero Time clears any existing deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}

// abort records err as the connection's fatal cause, closes the transport,
// and returns a wrapped error identifying the connection as no longer
// usable.
func (c *Conn) abort(err error) error {
	if c.fatal != nil {
		return c.fatal
	}
	c.phase = PhaseFatal
	c.fatal = err
	_ = c.nc.Close()
	return errors.Mark(errors.Wrap(err, "proto: connection aborted"), ErrFatal)
}

// Close sends Terminate and closes the underlying transport. Close on an
// already-fatal connection just closes the transport.
func (c *Conn) Close() error {
	if c.fatal != nil {
		return c.nc.Close()
	}
	c.phase = PhaseTerminating
	c.b.Reset()
	c.b.BeginTagged(wire.TagTerminate)
	writeErr := c.b.Finalize()
	if writeErr == nil {
		writeErr = c.write()
	}
	closeErr := c.nc.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

// checkPhase reports ErrWrongPhase unless the connection is in one of want.
func (c *Conn) checkPhase(want ...Phase) error {
	if c.fatal != nil {
		return errors.Mark(errors.Wrap(c.fatal, "proto: connection aborted"), ErrFatal)
	}
	for _, w := range want {
		if c.phase == w {
			return nil
		}
	}
	return errors.Wrapf(ErrWrongPhase, "in phase %d", c.phase)
}

// readAsync drains any purely asynchronous messages (NoticeResponse,
// NotificationResponse, ParameterStatus) that the server is free to send
// at almost any point in the protocol, returning the next message that
// actually belongs to the caller's flow.
func (c *Conn) readAsync() (tag byte, payload []byte, err error) {
	for {
		tag, payload, err = c.r.ReadMessage()
		if err != nil {
			return 0, nil, translateTransportErr(err)
		}
		p := wire.NewPayload(payload)
		switch tag {
		case wire.TagNoticeResponse:
			if err := c.handleNotice(p); err != nil {
				return 0, nil, err
			}
			continue
		case wire.TagNotificationResp:
			if err := c.handleNotification(p); err != nil {
				return 0, nil, err
			}
			continue
		case wire.TagParameterStatus:
			if err := c.handleParameterStatus(p); err != nil {
				return 0, nil, err
			}
			continue
		default:
			return tag, payload, nil
		}
	}
}

func translateTransportErr(err error) error {
	if errors.Is(err, wire.ErrTransportClosed) || errors.Is(err, io.EOF) {
		return errors.Mark(err, wire.ErrTransportClosed)
	}
	return err
}

// CommandType identifies the SQL command a CommandComplete tag names.
type CommandType int

const (
	CommandUnknown CommandType = iota
	CommandInsert
	CommandDelete
	CommandUpdate
	CommandSelect
	CommandMove
	CommandFetch
	CommandCopy
)

var commandNames = map[string]CommandType{
	"INSERT": CommandInsert,
	"DELETE": CommandDelete,
	"UPDATE": CommandUpdate,
	"SELECT": CommandSelect,
	"MOVE":   CommandMove,
	"FETCH":  CommandFetch,
	"COPY":   CommandCopy,
}

func (t CommandType) String() string {
	for name, v := range commandNames {
		if v == t {
			return name
		}
	}
	return "UNKNOWN"
}

// parseCommandTag decodes a CommandComplete tag string such as "INSERT 0 1"
// or "SELECT 3".
func parseCommandTag(tag string) (CommandTag, error) {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return CommandTag{}, errors.Newf("proto: empty command tag")
	}
	cmd, ok := commandNames[fields[0]]
	if !ok {
		return CommandTag{Command: CommandUnknown}, nil
	}
	rowsField := fields[len(fields)-1]
	if cmd == CommandInsert && len(fields) < 3 {
		return CommandTag{}, errors.Newf("proto: malformed INSERT command tag %q", tag)
	}
	rows, err := parseInt64(rowsField)
	if err != nil {
		return CommandTag{}, errors.Wrapf(err, "proto: command tag %q", tag)
	}
	return CommandTag{Command: cmd, Rows: rows}, nil
}

func parseInt64(s string) (int64, error) {
	var n int64
	neg := strings.HasPrefix(s, "-")
	digits := s
	if neg {
		digits = s[1:]
	}
	if digits == "" {
		return 0, errors.Newf("empty number %q", s)
	}
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return 0, errors.Newf("invalid number %q", s)
		}
		d := int64(ch - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0, errors.Newf("number %q overflows int64", s)
		}
		n = n*10 + d
	}
	if neg {
		n = -n
	}
	return n, nil
}
