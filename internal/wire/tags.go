// Package wire implements the length-prefixed message framing of the
// PostgreSQL frontend/backend protocol (protocol version 3), independent of
// connection state. See
// https://www.postgresql.org/docs/current/protocol-message-formats.html
package wire

// Backend message tags.
const (
	TagAuthentication      byte = 'R'
	TagBackendKeyData      byte = 'K'
	TagBindComplete        byte = '2'
	TagCloseComplete       byte = '3'
	TagCommandComplete     byte = 'C'
	TagCopyData            byte = 'd'
	TagCopyDone            byte = 'c'
	TagCopyInResponse      byte = 'G'
	TagCopyOutResponse     byte = 'H'
	TagCopyBothResponse    byte = 'W'
	TagDataRow             byte = 'D'
	TagEmptyQueryResponse  byte = 'I'
	TagErrorResponse       byte = 'E'
	TagNoData              byte = 'n'
	TagNoticeResponse      byte = 'N'
	TagNotificationResp    byte = 'A'
	TagParameterDescr      byte = 't'
	TagParameterStatus     byte = 'S'
	TagParseComplete       byte = '1'
	TagPortalSuspended     byte = 's'
	TagReadyForQuery       byte = 'Z'
	TagRowDescription      byte = 'T'
)

// Frontend message tags.
const (
	TagBind            byte = 'B'
	TagClose           byte = 'C'
	TagCopyFail        byte = 'f'
	TagDescribe        byte = 'D'
	TagExecute         byte = 'E'
	TagFlush           byte = 'H'
	TagParse           byte = 'P'
	TagPasswordMessage byte = 'p'
	TagQuery           byte = 'Q'
	TagSync            byte = 'S'
	TagTerminate       byte = 'X'
)

// Authentication method codes carried in the payload of an Authentication
// (tag 'R') backend message.
const (
	AuthOK                int32 = 0
	AuthKerberosV5        int32 = 2
	AuthCleartextPassword int32 = 3
	AuthMD5Password       int32 = 5
	AuthSCMCredential     int32 = 6
	AuthGSS               int32 = 7
	AuthGSSContinue       int32 = 8
	AuthSSPI              int32 = 9
	AuthSASL              int32 = 10
	AuthSASLContinue      int32 = 11
	AuthSASLFinal         int32 = 12
)

// ProtocolVersion is the protocol version number sent in StartupMessage.
const ProtocolVersion int32 = 196608

// CancelRequestCode is the special "protocol version" that marks a
// CancelRequest on a fresh, untagged connection.
const CancelRequestCode int32 = 80877102

// SSLRequestCode is the special "protocol version" that marks an
// SSLRequest on a fresh, untagged connection.
const SSLRequestCode int32 = 80877103
