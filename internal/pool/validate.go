package pool

import (
	"context"
	"io"
	"time"

	"github.com/brindlecove/pgwire/internal/proto"
)

// maxValidationFailures bounds the borrow retry ladder: after this many
// successive validation failures for one borrow request, the pool gives up
// rather than looping forever through an unhealthy backend.
const maxValidationFailures = 3

// validator runs a health check against a connection pulled from the
// available queue before handing it to a borrower. A nil validator means
// no validation query was configured, and every connection is trusted.
type validator func(ctx context.Context, c *proto.Conn) error

// newValidator builds a validator that runs query and discards its
// results, bounded by ctx's deadline (translated to a transport deadline,
// since the extended and simple query flows are not themselves
// context-aware — see Conn.SetDeadline).
func newValidator(query string) validator {
	if query == "" {
		return nil
	}
	return func(ctx context.Context, c *proto.Conn) error {
		if dl, ok := ctx.Deadline(); ok {
			if err := c.SetDeadline(dl); err != nil {
				return err
			}
			defer c.SetDeadline(time.Time{})
		}
		return c.SimpleQuery(query, discardHandler{})
	}
}

// discardHandler implements proto.SimpleQueryHandler by throwing away
// everything it is told; it exists only to drive a validation query to
// completion.
type discardHandler struct{}

func (discardHandler) RowDescription(*proto.RowDescription) error { return nil }
func (discardHandler) Row([]proto.FieldValue) error                { return nil }
func (discardHandler) CommandComplete(proto.CommandTag) error      { return nil }
func (discardHandler) EmptyQuery() error                           { return nil }
func (discardHandler) CopyInSource([]int16) (io.Reader, error)     { return nil, nil }
func (discardHandler) CopyOutData([]byte) error                    { return nil }
