package pgtype

import (
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// timestampPattern matches Postgres's default textual output:
// YYYY-MM-DD HH:MM:SS[.fffffff][+HH[:MM[:SS]]]
var timestampPattern = regexp.MustCompile(
	`^(\d{4,})-(\d{2})-(\d{2}) (\d{2}):(\d{2}):(\d{2})(\.\d+)?([+-]\d{2}(:\d{2}(:\d{2})?)?)?$`,
)

var errInvalidTimestamp = errors.New("pgtype: invalid timestamp literal")

type timestampConverter struct{ withZone bool }

func (c timestampConverter) FromBytes(raw []byte, _ Format) (any, error) {
	m := timestampPattern.FindSubmatch(raw)
	if m == nil {
		return nil, errors.Wrapf(errInvalidTimestamp, "%q", raw)
	}
	year, _ := strconv.Atoi(string(m[1]))
	month, _ := strconv.Atoi(string(m[2]))
	day, _ := strconv.Atoi(string(m[3]))
	hour, _ := strconv.Atoi(string(m[4]))
	minute, _ := strconv.Atoi(string(m[5]))
	second, _ := strconv.Atoi(string(m[6]))

	var nanos int
	if frac := m[7]; len(frac) > 0 {
		digits := string(frac[1:])
		for len(digits) < 9 {
			digits += "0"
		}
		nanos, _ = strconv.Atoi(digits[:9])
	}

	loc := time.UTC
	if offset := m[8]; len(offset) > 0 {
		sign := 1
		off := string(offset)
		if off[0] == '-' {
			sign = -1
		}
		off = off[1:]
		hh, _ := strconv.Atoi(off[:2])
		mm, ss := 0, 0
		if len(off) > 2 {
			mm, _ = strconv.Atoi(off[3:5])
		}
		if len(off) > 5 {
			ss, _ = strconv.Atoi(off[6:8])
		}
		totalSeconds := sign * (hh*3600 + mm*60 + ss)
		loc = time.FixedZone("", totalSeconds)
	} else if !c.withZone {
		loc = time.UTC
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nanos, loc), nil
}

func (c timestampConverter) ToBytes(v any) (Format, []byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return FormatText, nil, errors.Newf("pgtype: %T is not a time.Time", v)
	}
	layout := "2006-01-02 15:04:05.999999999"
	if c.withZone {
		layout += "-07:00:00"
	}
	return FormatText, []byte(t.Format(layout)), nil
}

// Interval represents an interval value as the server's default textual
// output (e.g. "1 year 2 mons 3 days 04:05:06.789"). It is kept as a
// plain string rather than decomposed into months/days/micros, since the
// text round-trips losslessly and callers that need arithmetic can parse
// it themselves.
type Interval string

type intervalConverter struct{}

func (c intervalConverter) FromBytes(raw []byte, _ Format) (any, error) {
	return Interval(raw), nil
}

func (c intervalConverter) ToBytes(v any) (Format, []byte, error) {
	iv, ok := v.(Interval)
	if !ok {
		return FormatText, nil, errors.Newf("pgtype: %T is not an Interval", v)
	}
	return FormatText, []byte(iv), nil
}
