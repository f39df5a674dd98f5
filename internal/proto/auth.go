package proto

import (
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/xdg-go/scram"

	"github.com/brindlecove/pgwire/internal/wire"
)

// ErrUnsupportedAuth is returned when the server requests an authentication
// method this client does not implement (Kerberos, GSSAPI, SSPI, and the
// channel-binding SCRAM-SHA-256-PLUS variant).
var ErrUnsupportedAuth = errors.New("proto: unsupported authentication method")

// authenticate consumes Authentication* messages until AuthenticationOk,
// dispatching to the method the server names.
func (c *Conn) authenticate(params StartupParams) error {
	for {
		tag, payload, err := c.readAsync()
		if err != nil {
			return err
		}
		p := wire.NewPayload(payload)
		switch tag {
		case wire.TagErrorResponse:
			fields, err := readServerFields(p)
			if err != nil {
				return err
			}
			return &AuthFailedError{Fields: fields}
		case wire.TagAuthentication:
			done, err := c.handleAuthMessage(p, params)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		default:
			return errors.Newf("proto: unexpected message %q during authentication", tag)
		}
	}
}

// AuthFailedError wraps the ErrorResponse fields the server sent instead of
// completing authentication.
type AuthFailedError struct {
	Fields ServerFields
}

func (e *AuthFailedError) Error() string {
	return "proto: authentication failed: " + e.Fields.Message
}

// handleAuthMessage processes one Authentication (tag 'R') message and
// reports whether authentication is complete (AuthenticationOk seen).
func (c *Conn) handleAuthMessage(p *wire.Payload, params StartupParams) (bool, error) {
	code, err := p.ReadInt32()
	if err != nil {
		return false, err
	}
	switch int32(code) {
	case wire.AuthOK:
		return true, nil
	case wire.AuthCleartextPassword:
		return false, c.sendPassword(params.Password)
	case wire.AuthMD5Password:
		salt, err := p.ReadBytes(4)
		if err != nil {
			return false, err
		}
		digest := md5PasswordDigest(params.User, params.Password, salt)
		return false, c.sendPassword(digest)
	case wire.AuthSASL:
		mechanism, err := c.negotiateSASLMechanism(p)
		if err != nil {
			return false, err
		}
		return false, c.performSASL(mechanism, params)
	default:
		return false, errors.Wrapf(ErrUnsupportedAuth, "auth code %d", code)
	}
}

func (c *Conn) sendPassword(password string) error {
	c.b.Reset()
	c.b.BeginTagged(wire.TagPasswordMessage)
	c.b.AppendString(password)
	if err := c.b.Finalize(); err != nil {
		return err
	}
	return c.write()
}

// md5PasswordDigest implements Postgres's md5 auth: "md5" followed by the
// hex md5 of (hex md5 of password+user) concatenated with the server salt.
func md5PasswordDigest(user, password string, salt []byte) string {
	inner := hexMD5(password + user)
	return "md5" + hexMD5WithSalt(inner, salt)
}

func hexMD5(s string) string {
	h := md5.New()
	io.WriteString(h, s)
	return hex.EncodeToString(h.Sum(nil))
}

func hexMD5WithSalt(hexDigest string, salt []byte) string {
	h := md5.New()
	io.WriteString(h, hexDigest)
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

const saslMechanismScramSHA256 = "SCRAM-SHA-256"

// negotiateSASLMechanism reads the server's null-terminated list of
// supported mechanisms and picks the first one this client supports.
// SCRAM-SHA-256-PLUS (channel binding) is intentionally not offered:
// binding to a specific transport-layer channel is out of scope without
// also implementing TLS channel binding extraction.
func (c *Conn) negotiateSASLMechanism(p *wire.Payload) (string, error) {
	for {
		mech, err := p.ReadString()
		if err != nil {
			return "", err
		}
		if len(mech) == 0 {
			return "", errors.Wrap(ErrUnsupportedAuth, "no SASL mechanism in common")
		}
		if string(mech) == saslMechanismScramSHA256 {
			return saslMechanismScramSHA256, nil
		}
	}
}

func (c *Conn) performSASL(mechanism string, params StartupParams) error {
	client, err := scram.SHA256.NewClient(params.User, params.Password, "")
	if err != nil {
		return errors.Wrap(err, "proto: building SCRAM client")
	}
	conv := client.NewConversation()

	initial, err := conv.Step("")
	if err != nil {
		return errors.Wrap(err, "proto: SCRAM initial step")
	}

	c.b.Reset()
	c.b.BeginTagged(wire.TagPasswordMessage)
	c.b.AppendString(mechanism)
	c.b.AppendLengthPrefixedBytes([]byte(initial))
	if err := c.b.Finalize(); err != nil {
		return err
	}
	if err := c.write(); err != nil {
		return err
	}

	serverFirst, err := c.readSASLContinue()
	if err != nil {
		return err
	}
	clientFinal, err := conv.Step(string(serverFirst))
	if err != nil {
		return errors.Wrap(err, "proto: SCRAM client-final step")
	}

	c.b.Reset()
	c.b.BeginTagged(wire.TagPasswordMessage)
	c.b.AppendRaw([]byte(clientFinal))
	if err := c.b.Finalize(); err != nil {
		return err
	}
	if err := c.write(); err != nil {
		return err
	}

	serverFinal, err := c.readSASLFinal()
	if err != nil {
		return err
	}
	if _, err := conv.Step(string(serverFinal)); err != nil {
		return errors.Wrap(err, "proto: SCRAM server-final verification")
	}
	if !conv.Valid() {
		return errors.Wrap(ErrUnsupportedAuth, "SCRAM conversation did not complete")
	}
	return nil
}

func (c *Conn) readSASLContinue() ([]byte, error) {
	tag, payload, err := c.readAsync()
	if err != nil {
		return nil, err
	}
	p := wire.NewPayload(payload)
	if tag == wire.TagErrorResponse {
		fields, ferr := readServerFields(p)
		if ferr != nil {
			return nil, ferr
		}
		return nil, &AuthFailedError{Fields: fields}
	}
	if tag != wire.TagAuthentication {
		return nil, errors.Newf("proto: unexpected message %q, want AuthenticationSASLContinue", tag)
	}
	code, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	if int32(code) != wire.AuthSASLContinue {
		return nil, errors.Newf("proto: unexpected authentication code %d, want AuthenticationSASLContinue", code)
	}
	return p.ReadBytes(-1)
}

func (c *Conn) readSASLFinal() ([]byte, error) {
	tag, payload, err := c.readAsync()
	if err != nil {
		return nil, err
	}
	p := wire.NewPayload(payload)
	if tag == wire.TagErrorResponse {
		fields, ferr := readServerFields(p)
		if ferr != nil {
			return nil, ferr
		}
		return nil, &AuthFailedError{Fields: fields}
	}
	if tag != wire.TagAuthentication {
		return nil, errors.Newf("proto: unexpected message %q, want AuthenticationSASLFinal", tag)
	}
	code, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	if int32(code) != wire.AuthSASLFinal {
		return nil, errors.Newf("proto: unexpected authentication code %d, want AuthenticationSASLFinal", code)
	}
	return p.ReadBytes(-1)
}
