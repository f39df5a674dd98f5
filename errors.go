package pgwire

import "github.com/cockroachdb/errors"

// Error kinds callers match with errors.Is/errors.As (the cockroachdb/errors
// variants, which also work against the standard library's own Is/As); the
// exported names identify the *kind*, not a concrete Go type — some, like
// ServerError and AuthFailed, carry structured detail reachable via
// errors.As on the concrete type below the sentinel.
var (
	ErrTransportClosed    = errors.New("pgwire: transport closed")
	ErrTransportTimeout   = errors.New("pgwire: transport i/o timed out")
	ErrProtocolViolation  = errors.New("pgwire: protocol violation")
	ErrUnsupportedAuth    = errors.New("pgwire: unsupported authentication method")
	ErrAuthFailed         = errors.New("pgwire: authentication failed")
	ErrQueryCanceled      = errors.New("pgwire: query canceled")
	ErrConnectionLost     = errors.New("pgwire: connection lost")
	ErrMissingRowMeta     = errors.New("pgwire: row has no column metadata")
	ErrColumnNotPresent   = errors.New("pgwire: column not present")
	ErrNoConversion       = errors.New("pgwire: no conversion for type")
	ErrConvertToFailed    = errors.New("pgwire: value conversion failed")
	ErrInvalidConvertType = errors.New("pgwire: converter returned nil for non-null input")
	ErrPoolClosed         = errors.New("pgwire: pool closed")
	ErrBorrowTimeout      = errors.New("pgwire: borrow timed out")
	ErrValidationFailed   = errors.New("pgwire: connection validation failed")
)

// ServerErrorFields mirrors the wire ErrorResponse/NoticeResponse field
// set (see https://www.postgresql.org/docs/current/protocol-error-fields.html).
// A ServerError wraps ErrServerError below and carries one of these.
type ServerErrorFields struct {
	SeverityLocalized string
	Severity          string
	Code              string // SQLSTATE
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

	// Additional holds any field type not named above, keyed by its
	// single-byte wire tag.
	Additional map[byte]string
}

func (f *ServerErrorFields) assign(typ byte, value string) {
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

// ErrServerError is the sentinel every *ServerError wraps; use
// errors.As(err, &serverErr) to reach the fields.
var ErrServerError = errors.New("pgwire: server error")

// ServerError is a per-query ErrorResponse from the backend. Receiving one
// does not put the connection into the fatal phase; the connection
// continues after the next ReadyForQuery.
type ServerError struct {
	Fields ServerErrorFields
}

func (e *ServerError) Error() string {
	return "pgwire: server error: " + e.Fields.Severity + ": " + e.Fields.Message
}

func (e *ServerError) Unwrap() error { return ErrServerError }

// Notice is a NoticeResponse delivered asynchronously outside of any
// query's direct response stream.
type Notice struct {
	Fields ServerErrorFields
}

func (n *Notice) String() string {
	return n.Fields.Severity + ": " + n.Fields.Message
}

// AuthFailedError wraps the ErrorResponse fields the server sent in place
// of completing authentication.
type AuthFailedError struct {
	Fields ServerErrorFields
}

func (e *AuthFailedError) Error() string {
	return "pgwire: authentication failed: " + e.Fields.Message
}

func (e *AuthFailedError) Unwrap() error { return ErrAuthFailed }

// ConvertToFailedError names the type and OID that a conversion failed for.
type ConvertToFailedError struct {
	TypeName string
	OID      uint32
	Cause    error
}

func (e *ConvertToFailedError) Error() string {
	return errors.Wrapf(e.Cause, "pgwire: converting column of type %q (oid %d)", e.TypeName, e.OID).Error()
}

func (e *ConvertToFailedError) Unwrap() error { return ErrConvertToFailed }
