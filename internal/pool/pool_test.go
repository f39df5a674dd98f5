package pool

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brindlecove/pgwire/internal/proto"
	"github.com/brindlecove/pgwire/internal/wire"
)

// fakeServerConn drives the server half of a net.Pipe with just enough of
// the protocol to satisfy proto.Connect and, generically, any simple
// query: every Query gets an immediate CommandComplete/ReadyForQuery with
// no rows, regardless of the SQL text. That is enough for pool tests,
// which exercise borrow/return/validate bookkeeping rather than query
// semantics (covered separately in internal/proto).
func fakeServerConn(t *testing.T, nc net.Conn, pid int32) {
	go func() {
		readStartupMessage(nc)

		var b wire.Builder
		b.BeginTagged(wire.TagAuthentication)
		b.AppendInt32(0)
		require.NoError(t, b.Finalize())
		mustWrite(t, nc, &b)

		b.Reset()
		b.BeginTagged(wire.TagBackendKeyData)
		b.AppendInt32(int(pid))
		b.AppendInt32(0)
		require.NoError(t, b.Finalize())
		mustWrite(t, nc, &b)

		sendReady(t, nc, 'I')

		r := wire.NewReader(nc)
		for {
			tag, _, err := r.ReadMessage()
			if err != nil {
				return
			}
			switch tag {
			case wire.TagQuery:
				b.Reset()
				b.BeginTagged(wire.TagCommandComplete)
				b.AppendString("SELECT 0")
				require.NoError(t, b.Finalize())
				mustWrite(t, nc, &b)
				sendReady(t, nc, 'I')
			case wire.TagTerminate:
				_ = nc.Close()
				return
			}
		}
	}()
}

// failThenSucceedServerConn behaves like fakeServerConn, except every Query
// message is answered with an ErrorResponse instead of CommandComplete
// while failuresRemaining is still positive, decrementing it each time.
// Used to drive the validation-failure retry ladder.
func failThenSucceedServerConn(t *testing.T, nc net.Conn, pid int32, failuresRemaining *int32) {
	go func() {
		readStartupMessage(nc)

		var b wire.Builder
		b.BeginTagged(wire.TagAuthentication)
		b.AppendInt32(0)
		require.NoError(t, b.Finalize())
		mustWrite(t, nc, &b)

		b.Reset()
		b.BeginTagged(wire.TagBackendKeyData)
		b.AppendInt32(int(pid))
		b.AppendInt32(0)
		require.NoError(t, b.Finalize())
		mustWrite(t, nc, &b)

		sendReady(t, nc, 'I')

		r := wire.NewReader(nc)
		for {
			tag, _, err := r.ReadMessage()
			if err != nil {
				return
			}
			switch tag {
			case wire.TagQuery:
				if atomic.AddInt32(failuresRemaining, -1) >= 0 {
					b.Reset()
					b.BeginTagged(wire.TagErrorResponse)
					b.AppendByte('S')
					b.AppendString("ERROR")
					b.AppendByte('M')
					b.AppendString("simulated validation failure")
					b.AppendByte(0)
					require.NoError(t, b.Finalize())
					mustWrite(t, nc, &b)
					sendReady(t, nc, 'I')
					continue
				}
				b.Reset()
				b.BeginTagged(wire.TagCommandComplete)
				b.AppendString("SELECT 0")
				require.NoError(t, b.Finalize())
				mustWrite(t, nc, &b)
				sendReady(t, nc, 'I')
			case wire.TagTerminate:
				_ = nc.Close()
				return
			}
		}
	}()
}

func sendReady(t *testing.T, nc net.Conn, status byte) {
	var b wire.Builder
	b.BeginTagged(wire.TagReadyForQuery)
	b.AppendByte(status)
	require.NoError(t, b.Finalize())
	mustWrite(t, nc, &b)
}

func mustWrite(t *testing.T, nc net.Conn, b *wire.Builder) {
	_, err := nc.Write(b.Bytes())
	require.NoError(t, err)
}

func readStartupMessage(nc net.Conn) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(nc, lenBuf[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	rest := make([]byte, n-4)
	_, _ = io.ReadFull(nc, rest)
}

// newCountingConnector returns a Connector that dials an in-memory fake
// backend for every call, each with a distinct simulated backend PID, and
// a counter of how many connections have ever been created.
func newCountingConnector(t *testing.T) (connect Connector, created *int32) {
	var count int32
	return func(ctx context.Context) (*proto.Conn, error) {
		n := atomic.AddInt32(&count, 1)
		client, server := net.Pipe()
		fakeServerConn(t, server, n)
		return proto.Connect(client, proto.StartupParams{User: "test", Database: "test"})
	}, &count
}

func TestBorrowReturnReusesConnection(t *testing.T) {
	connector, created := newCountingConnector(t)
	p, err := New(context.Background(), Config{Size: 1, BorrowTimeout: time.Second}, connector)
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.BorrowConnection(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, p.ReturnConnection(c1))

	c2, err := p.BorrowConnection(context.Background(), 0)
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.EqualValues(t, 1, atomic.LoadInt32(created))
	require.NoError(t, p.ReturnConnection(c2))
}

func TestBorrowBlocksThenSucceedsAfterRelease(t *testing.T) {
	connector, _ := newCountingConnector(t)
	p, err := New(context.Background(), Config{Size: 2, BorrowTimeout: time.Second}, connector)
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.BorrowConnection(context.Background(), 0)
	require.NoError(t, err)
	c2, err := p.BorrowConnection(context.Background(), 0)
	require.NoError(t, err)

	_, err = p.BorrowConnection(context.Background(), 100*time.Millisecond)
	require.ErrorIs(t, err, ErrBorrowTimeout)

	resultCh := make(chan error, 1)
	go func() {
		c3, err := p.BorrowConnection(context.Background(), time.Second)
		if err == nil {
			_ = p.ReturnConnection(c3)
		}
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.ReturnConnection(c1))
	require.NoError(t, p.ReturnConnection(c2))

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("borrow after release never completed")
	}
}

func TestEagerFillCreatesSizeConnections(t *testing.T) {
	connector, created := newCountingConnector(t)
	p, err := New(context.Background(), Config{Size: 3, Eager: true, BorrowTimeout: time.Second}, connector)
	require.NoError(t, err)
	defer p.Close()

	require.EqualValues(t, 3, atomic.LoadInt32(created))
	stats := p.Stats()
	require.Equal(t, 3, stats.Available)
	require.Equal(t, 3, stats.LiveCount)
}

func TestCloseWithOutstandingBorrowDefaultCloses(t *testing.T) {
	connector, _ := newCountingConnector(t)
	p, err := New(context.Background(), Config{Size: 1, BorrowTimeout: time.Second}, connector)
	require.NoError(t, err)

	c, err := p.BorrowConnection(context.Background(), 0)
	require.NoError(t, err)

	require.NoError(t, p.Close())

	handler := discardHandler{}
	require.NoError(t, c.SimpleQuery("select 1", handler))

	err = p.ReturnConnection(c)
	require.ErrorIs(t, err, ErrPoolClosed)
	require.Equal(t, proto.PhaseTerminating, c.Phase())
}

func TestCloseWithOutstandingBorrowKeepOpen(t *testing.T) {
	connector, _ := newCountingConnector(t)
	p, err := New(context.Background(), Config{
		Size:                         1,
		BorrowTimeout:                time.Second,
		KeepReturnedOpenOnClosedPool: true,
	}, connector)
	require.NoError(t, err)

	c, err := p.BorrowConnection(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	err = p.ReturnConnection(c)
	require.ErrorIs(t, err, ErrPoolClosed)
	require.Equal(t, proto.PhaseReady, c.Phase())
	require.NoError(t, c.Close())
}

func TestBorrowOnClosedPoolFails(t *testing.T) {
	connector, _ := newCountingConnector(t)
	p, err := New(context.Background(), Config{Size: 1, BorrowTimeout: time.Second}, connector)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.BorrowConnection(context.Background(), 0)
	require.ErrorIs(t, err, ErrPoolClosed)
}

// TestBorrowIsFIFOAcrossWaiters checks that of two borrowers queued while
// the pool is fully checked out, the one that started waiting first is the
// one woken by the first return.
func TestBorrowIsFIFOAcrossWaiters(t *testing.T) {
	connector, _ := newCountingConnector(t)
	p, err := New(context.Background(), Config{Size: 1, BorrowTimeout: 2 * time.Second}, connector)
	require.NoError(t, err)
	defer p.Close()

	c, err := p.BorrowConnection(context.Background(), 0)
	require.NoError(t, err)

	order := make(chan string, 2)
	started := make(chan struct{}, 2)

	go func() {
		started <- struct{}{}
		if _, err := p.BorrowConnection(context.Background(), 2*time.Second); err == nil {
			order <- "A"
		}
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // give A time to reach the wait queue first

	go func() {
		started <- struct{}{}
		if _, err := p.BorrowConnection(context.Background(), 2*time.Second); err == nil {
			order <- "B"
		}
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.ReturnConnection(c))

	select {
	case first := <-order:
		require.Equal(t, "A", first, "earlier-queued waiter must be served first")
	case <-time.After(2 * time.Second):
		t.Fatal("no waiter was served after release")
	}
}

// TestBorrowValidationRetriesThenSucceeds exercises the retry ladder in
// BorrowConnection: the first available connection fails validation and is
// discarded, and the second (also already available, so still subject to
// validation) succeeds.
func TestBorrowValidationRetriesThenSucceeds(t *testing.T) {
	var failures int32 = 1
	var pid int32
	connector := func(ctx context.Context) (*proto.Conn, error) {
		n := atomic.AddInt32(&pid, 1)
		client, server := net.Pipe()
		failThenSucceedServerConn(t, server, n, &failures)
		return proto.Connect(client, proto.StartupParams{User: "test", Database: "test"})
	}

	p, err := New(context.Background(), Config{
		Size:            2,
		Eager:           true,
		ValidationQuery: "SELECT 1",
		BorrowTimeout:   time.Second,
	}, connector)
	require.NoError(t, err)
	defer p.Close()

	c, err := p.BorrowConnection(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, proto.PhaseReady, c.Phase())
	require.NoError(t, p.ReturnConnection(c))
}
