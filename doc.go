// Package pgwire is an asynchronous-friendly client for the PostgreSQL
// frontend/backend wire protocol: a connection state machine (startup,
// authentication, simple and extended query, transaction tracking), a
// text/binary value codec with a recursive array grammar, and a bounded,
// fair connection pool.
//
// A single connection is opened with Connect; most applications instead
// want a Pool, built with NewPool, borrowing and returning Conns as work
// arrives. Row values are read with Get (or Conn.Get), resolved through a
// pgtype.Registry that maps PostgreSQL type OIDs to Go values.
package pgwire
