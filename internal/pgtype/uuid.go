package pgtype

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type uuidConverter struct{}

func (c uuidConverter) FromBytes(raw []byte, _ Format) (any, error) {
	id, err := uuid.ParseBytes(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "pgtype: invalid uuid literal %q", raw)
	}
	return id, nil
}

func (c uuidConverter) ToBytes(v any) (Format, []byte, error) {
	id, ok := v.(uuid.UUID)
	if !ok {
		return FormatText, nil, errors.Newf("pgtype: %T is not a uuid.UUID", v)
	}
	return FormatText, []byte(id.String()), nil
}
