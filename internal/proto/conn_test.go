package proto

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brindlecove/pgwire/internal/wire"
)

// fakeBackend is a minimal, hand-scripted server speaking just enough of
// the protocol for one test scenario. It runs on its own goroutine over a
// net.Pipe half, taking full control of message ordering so each test can
// assert exact client behavior.
type fakeBackend struct {
	nc net.Conn
	r  *wire.Reader
	t  *testing.T
}

func newFakeBackend(t *testing.T, nc net.Conn) *fakeBackend {
	return &fakeBackend{nc: nc, r: wire.NewReader(nc), t: t}
}

func (f *fakeBackend) readStartup() {
	// The startup message has no leading tag byte; peek its length instead.
	var lenBuf [4]byte
	_, err := readFull(f.nc, lenBuf[:])
	require.NoError(f.t, err)
	n := binary.BigEndian.Uint32(lenBuf[:])
	rest := make([]byte, n-4)
	_, err = readFull(f.nc, rest)
	require.NoError(f.t, err)
}

func readFull(nc net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// drainFrontend discards every message the client sends from now on. A
// net.Pipe write blocks until the other side reads it, so tests that make
// the client write after startup need this. Call it only after readStartup.
func (f *fakeBackend) drainFrontend() {
	go func() {
		for {
			if _, _, err := f.r.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *fakeBackend) send(b *wire.Builder) {
	_, err := f.nc.Write(b.Bytes())
	require.NoError(f.t, err)
}

func (f *fakeBackend) sendAuthOK() {
	var b wire.Builder
	b.BeginTagged(wire.TagAuthentication)
	b.AppendInt32(0)
	require.NoError(f.t, b.Finalize())
	f.send(&b)
}

func (f *fakeBackend) sendBackendKeyData(pid, secret int32) {
	var b wire.Builder
	b.BeginTagged(wire.TagBackendKeyData)
	b.AppendInt32(int(pid))
	b.AppendInt32(int(secret))
	require.NoError(f.t, b.Finalize())
	f.send(&b)
}

func (f *fakeBackend) sendReadyForQuery(status byte) {
	var b wire.Builder
	b.BeginTagged(wire.TagReadyForQuery)
	b.AppendByte(status)
	require.NoError(f.t, b.Finalize())
	f.send(&b)
}

func (f *fakeBackend) sendRowDescription(names ...string) {
	var b wire.Builder
	b.BeginTagged(wire.TagRowDescription)
	b.AppendInt16(len(names))
	for _, name := range names {
		b.AppendString(name)
		b.AppendInt32(0)
		b.AppendInt16(0)
		b.AppendInt32(25) // text
		b.AppendInt16(-1)
		b.AppendInt32(-1)
		b.AppendInt16(0)
	}
	require.NoError(f.t, b.Finalize())
	f.send(&b)
}

func (f *fakeBackend) sendDataRow(values ...string) {
	var b wire.Builder
	b.BeginTagged(wire.TagDataRow)
	b.AppendInt16(len(values))
	for _, v := range values {
		b.AppendLengthPrefixedBytes([]byte(v))
	}
	require.NoError(f.t, b.Finalize())
	f.send(&b)
}

func (f *fakeBackend) sendCommandComplete(tag string) {
	var b wire.Builder
	b.BeginTagged(wire.TagCommandComplete)
	b.AppendString(tag)
	require.NoError(f.t, b.Finalize())
	f.send(&b)
}

// recordingHandler implements both SimpleQueryHandler and
// ExtendedQueryHandler by recording what it was told, doing nothing else.
type recordingHandler struct {
	descs []*RowDescription
	rows  [][]FieldValue
	tags  []CommandTag
	empty int
}

func (h *recordingHandler) RowDescription(d *RowDescription) error {
	h.descs = append(h.descs, d)
	return nil
}
func (h *recordingHandler) Row(f []FieldValue) error {
	h.rows = append(h.rows, f)
	return nil
}
func (h *recordingHandler) CommandComplete(t CommandTag) error {
	h.tags = append(h.tags, t)
	return nil
}
func (h *recordingHandler) EmptyQuery() error { h.empty++; return nil }
func (h *recordingHandler) CopyInSource([]int16) (io.Reader, error) {
	return nil, nil
}
func (h *recordingHandler) CopyOutData([]byte) error { return nil }

func dialTestConn(t *testing.T) (client net.Conn, backend *fakeBackend) {
	a, b := net.Pipe()
	a.SetDeadline(time.Now().Add(5 * time.Second))
	b.SetDeadline(time.Now().Add(5 * time.Second))
	return a, newFakeBackend(t, b)
}

func TestConnectAuthenticationOK(t *testing.T) {
	client, backend := dialTestConn(t)
	defer client.Close()

	done := make(chan *Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := Connect(client, StartupParams{User: "alice", Database: "db"})
		if err != nil {
			errCh <- err
			return
		}
		done <- c
	}()

	backend.readStartup()
	backend.sendAuthOK()
	backend.sendBackendKeyData(42, 99)
	backend.sendReadyForQuery('I')

	select {
	case err := <-errCh:
		t.Fatalf("Connect failed: %v", err)
	case c := <-done:
		require.Equal(t, PhaseReady, c.Phase())
		require.Equal(t, int32(42), c.ProcessID())
		require.Equal(t, int32(99), c.SecretKey())
		require.Equal(t, byte('I'), c.TxStatus())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect")
	}
}

func TestSimpleQueryRowsAndCommandComplete(t *testing.T) {
	client, backend := dialTestConn(t)
	defer client.Close()

	go func() {
		backend.readStartup()
		backend.sendAuthOK()
		backend.sendBackendKeyData(1, 2)
		backend.sendReadyForQuery('I')
	}()
	c, err := Connect(client, StartupParams{User: "alice"})
	require.NoError(t, err)
	backend.drainFrontend()

	handler := &recordingHandler{}
	queryErrCh := make(chan error, 1)
	go func() {
		queryErrCh <- c.SimpleQuery("select 1", handler)
	}()

	backend.sendRowDescription("?column?")
	backend.sendDataRow("1")
	backend.sendCommandComplete("SELECT 1")
	backend.sendReadyForQuery('I')

	require.NoError(t, <-queryErrCh)
	require.Len(t, handler.descs, 1)
	require.Equal(t, "?column?", handler.descs[0].Columns[0].Name)
	require.Len(t, handler.rows, 1)
	require.Equal(t, "1", string(handler.rows[0][0].Value))
	require.Len(t, handler.tags, 1)
	require.Equal(t, CommandSelect, handler.tags[0].Command)
	require.Equal(t, int64(1), handler.tags[0].Rows)
	require.Equal(t, PhaseReady, c.Phase())
}

func TestParseCommandTagInsert(t *testing.T) {
	ct, err := parseCommandTag("INSERT 0 5")
	require.NoError(t, err)
	require.Equal(t, CommandInsert, ct.Command)
	require.Equal(t, int64(5), ct.Rows)
}

func TestParseCommandTagUnknown(t *testing.T) {
	ct, err := parseCommandTag("VACUUM")
	require.NoError(t, err)
	require.Equal(t, CommandUnknown, ct.Command)
}
