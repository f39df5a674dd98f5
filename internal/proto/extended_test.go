package proto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brindlecove/pgwire/internal/wire"
)

func (f *fakeBackend) sendEmptyMessage(tag byte) {
	var b wire.Builder
	b.BeginTagged(tag)
	require.NoError(f.t, b.Finalize())
	f.send(&b)
}

func (f *fakeBackend) sendParameterDescription(oids ...uint32) {
	var b wire.Builder
	b.BeginTagged(wire.TagParameterDescr)
	b.AppendInt16(len(oids))
	for _, oid := range oids {
		b.AppendInt32(int(oid))
	}
	require.NoError(f.t, b.Finalize())
	f.send(&b)
}

func TestPrepareThenExecuteReusesPhaseReadyEntry(t *testing.T) {
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
	require.Equal(t, PhaseReady, c.Phase())
	backend.drainFrontend()

	// Parse + Describe + Sync: prepares "fetch" and reads back its
	// parameter types, returning the connection to PhaseReady.
	require.NoError(t, c.Parse(ParseStep{Statement: "fetch", SQL: "select $1::int4"}))
	require.Equal(t, PhaseExtendedQuery, c.Phase())
	require.NoError(t, c.Describe(TargetStatement, "fetch"))
	require.NoError(t, c.Sync())

	prepDone := make(chan error, 1)
	go func() {
		prepDone <- c.ReadExtendedResponses(&recordingExtendedHandler{})
	}()
	backend.sendEmptyMessage(wire.TagParseComplete)
	backend.sendParameterDescription(23)
	backend.sendReadyForQuery('I')
	require.NoError(t, <-prepDone)
	require.Equal(t, PhaseReady, c.Phase())

	// Bind starting a fresh batch directly from PhaseReady must be
	// accepted: the statement was already prepared in the batch above.
	require.NoError(t, c.Bind(BindStep{Statement: "fetch", Params: [][]byte{[]byte("7")}}))
	require.Equal(t, PhaseExtendedQuery, c.Phase())
	require.NoError(t, c.Execute(ExecuteStep{}))
	require.NoError(t, c.Sync())

	h := &recordingExtendedHandler{}
	execDone := make(chan error, 1)
	go func() {
		execDone <- c.ReadExtendedResponses(h)
	}()
	backend.sendEmptyMessage(wire.TagBindComplete)
	backend.sendRowDescription("col")
	backend.sendDataRow("7")
	backend.sendCommandComplete("SELECT 1")
	backend.sendReadyForQuery('I')

	require.NoError(t, <-execDone)
	require.Len(t, h.rows, 1)
	require.Equal(t, "7", string(h.rows[0][0].Value))
	require.Equal(t, PhaseReady, c.Phase())
}

func TestReadExtendedResponsesSurfacesServerError(t *testing.T) {
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

	require.NoError(t, c.Bind(BindStep{Statement: "missing"}))
	require.NoError(t, c.Execute(ExecuteStep{}))
	require.NoError(t, c.Sync())

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- c.ReadExtendedResponses(&recordingExtendedHandler{})
	}()

	var b wire.Builder
	b.BeginTagged('E')
	b.AppendByte('C')
	b.AppendString("42P01")
	b.AppendByte(0)
	require.NoError(t, b.Finalize())
	backend.send(&b)
	backend.sendReadyForQuery('I')

	select {
	case err := <-readErrCh:
		var se *ServerError
		require.ErrorAs(t, err, &se)
		require.Equal(t, "42P01", se.Fields.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ReadExtendedResponses")
	}
	require.Equal(t, PhaseReady, c.Phase())
}

type recordingExtendedHandler struct {
	rows [][]FieldValue
}

func (h *recordingExtendedHandler) ParseComplete() error { return nil }
func (h *recordingExtendedHandler) BindComplete() error  { return nil }
func (h *recordingExtendedHandler) ParameterDescription([]uint32) error {
	return nil
}
func (h *recordingExtendedHandler) RowDescription(*RowDescription) error { return nil }
func (h *recordingExtendedHandler) NoData() error                       { return nil }
func (h *recordingExtendedHandler) Row(f []FieldValue) error {
	h.rows = append(h.rows, f)
	return nil
}
func (h *recordingExtendedHandler) PortalSuspended() error       { return nil }
func (h *recordingExtendedHandler) CommandComplete(CommandTag) error { return nil }
func (h *recordingExtendedHandler) CloseComplete() error         { return nil }
