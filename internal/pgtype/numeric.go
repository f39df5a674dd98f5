package pgtype

import (
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type numericConverter struct{}

func (c numericConverter) FromBytes(raw []byte, _ Format) (any, error) {
	if string(raw) == "NaN" {
		return nil, errors.New("pgtype: NaN numeric has no exact decimal.Decimal representation")
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "pgtype: invalid numeric literal %q", raw)
	}
	return d, nil
}

func (c numericConverter) ToBytes(v any) (Format, []byte, error) {
	d, ok := v.(decimal.Decimal)
	if !ok {
		return FormatText, nil, errors.Newf("pgtype: %T is not a decimal.Decimal", v)
	}
	return FormatText, []byte(d.String()), nil
}
