package db

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Decode copies row into out (a pointer to a struct) using json tags.
// RFC 3339 strings decode into time.Time fields.
func Decode(row Row, out any) error {
	dec, err := newDecoder(out)
	if err != nil {
		return err
	}
	return dec.Decode(row)
}

// DecodeAll copies rows into out (a pointer to a slice).
func DecodeAll(rows []Row, out any) error {
	if rows == nil {
		rows = []Row{}
	}
	dec, err := newDecoder(out)
	if err != nil {
		return err
	}
	return dec.Decode(rows)
}

// QueryAs runs sql and decodes every row into T.
func QueryAs[T any](ctx context.Context, q Querier, sql string, params ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	if err := DecodeAll(rows, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryOneAs runs sql and decodes the first row into T. It returns nil, nil
// when there are no rows.
func QueryOneAs[T any](ctx context.Context, q Querier, sql string, params ...any) (*T, error) {
	row, err := q.QueryOne(ctx, sql, params...)
	if err != nil || row == nil {
		return nil, err
	}
	out := new(T)
	if err := Decode(row, out); err != nil {
		return nil, err
	}
	return out, nil
}

func newDecoder(out any) (*mapstructure.Decoder, error) {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			timeHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("db: decoder: %w", err)
	}
	return dec, nil
}

var timeType = reflect.TypeOf(time.Time{})

// timeHook accepts RFC 3339 text and time.Time for time.Time fields.
func timeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05.999999-07:00"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("db: cannot parse %q as time", v)
	case time.Time:
		return v, nil
	}
	return data, nil
}
