package wire

import "github.com/cockroachdb/errors"

type integer interface {
	int | int8 | int16 | int32 | int64 |
		uint | uint8 | uint16 | uint32 | uint64 |
		uintptr
}

var ErrIntegerOverflow = errors.New("wire: integer conversion overflows target type")

// SafeConvert narrows n to M, failing if the round trip through M would
// change its value. Every length and count on the wire is a signed 16 or
// 32 bit integer; Go code works in int, so the Builder's fixed-width
// appenders and length patching, and the Reader's frame-length
// computation, go through here.
func SafeConvert[N, M integer](n N) (M, error) {
	if N(M(n)) != n {
		return 0, ErrIntegerOverflow
	}
	return M(n), nil
}
