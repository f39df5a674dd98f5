package proto

import (
	"net"

	"github.com/brindlecove/pgwire/internal/wire"
)

// CancelRequest opens a new, short-lived connection to addr (the same
// address the target connection is on) and sends a CancelRequest naming
// pid/secret. The request is fire-and-forget by design: the server closes
// the connection without any reply, successful or not, so there is nothing
// meaningful to read back.
func CancelRequest(dial func(network, addr string) (net.Conn, error), addr string, pid, secret int32) error {
	nc, err := dial("tcp", addr)
	if err != nil {
		return err
	}
	defer nc.Close()

	var b wire.Builder
	b.BeginUntagged()
	b.AppendInt32(int(wire.CancelRequestCode))
	b.AppendInt32(int(pid))
	b.AppendInt32(int(secret))
	if err := b.Finalize(); err != nil {
		return err
	}
	_, err = nc.Write(b.Bytes())
	return err
}

// Cancel issues a CancelRequest for this connection's own backend over a
// fresh connection to remoteAddr, dialed with dial.
func (c *Conn) Cancel(dial func(network, addr string) (net.Conn, error), remoteAddr string) error {
	return CancelRequest(dial, remoteAddr, c.processID, c.secretKey)
}
