// Package normalize maps loosely-shaped API payloads onto typed structs.
//
// Struct fields declare the payload keys they accept in a `coalesce` tag, in
// priority order. The first key whose value is present and non-null wins;
// when none is present the field keeps its zero value. A present value that
// cannot be converted to the field type is a schema error.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

const tagName = "coalesce"

var (
	// ErrNotStruct is returned when the destination is not a pointer to a struct.
	ErrNotStruct = errors.New("destination must be a non-nil pointer to a struct")
	// ErrInvalidField is returned when a present value has the wrong shape.
	ErrInvalidField = errors.New("invalid field value")
)

var timeType = reflect.TypeOf(time.Time{})

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type fieldMapping struct {
	index int
	keys  []string
}

var mappings sync.Map // reflect.Type -> []fieldMapping

func mappingFor(t reflect.Type) []fieldMapping {
	if cached, ok := mappings.Load(t); ok {
		return cached.([]fieldMapping)
	}

	var out []fieldMapping
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get(tagName)
		if tag == "" || tag == "-" {
			continue
		}
		out = append(out, fieldMapping{index: i, keys: strings.Split(tag, ",")})
	}

	mappings.Store(t, out)
	return out
}

// Decode fills dst from src following dst's coalesce tags. Timestamps
// without a zone are read as UTC.
func Decode(src map[string]any, dst any) error {
	return DecodeIn(src, dst, time.UTC)
}

// DecodeIn is Decode reading zone-less timestamps in loc.
func DecodeIn(src map[string]any, dst any, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrNotStruct
	}
	rv = rv.Elem()

	for _, m := range mappingFor(rv.Type()) {
		key, raw, ok := first(src, m.keys)
		if !ok {
			continue
		}
		field := rv.Field(m.index)
		if err := assign(field, raw, loc); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidField, key, err)
		}
	}
	return nil
}

// DecodeAll decodes every item in loc, skipping items that fail. It returns
// the decoded records and the number of skipped items. A nil loc means UTC.
func DecodeAll[T any](items []map[string]any, loc *time.Location) ([]T, int) {
	out := make([]T, 0, len(items))
	skipped := 0
	for _, item := range items {
		var v T
		if err := DecodeIn(item, &v, loc); err != nil {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped
}

// Recognized reports whether src carries any key that dst's type declares.
func Recognized(src map[string]any, dst any) bool {
	t := reflect.TypeOf(dst)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for _, m := range mappingFor(t) {
		if _, _, ok := first(src, m.keys); ok {
			return true
		}
	}
	return false
}

func first(src map[string]any, keys []string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := src[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

func assign(field reflect.Value, raw any, loc *time.Location) error {
	if field.Type() == timeType {
		t, err := toTime(raw, loc)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		s, err := toString(raw)
		if err != nil {
			return err
		}
		field.SetString(s)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := toInt(raw, field)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := toBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

func toFloat(raw any) (float64, error) {
	var (
		f   float64
		err error
	)
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			err = fmt.Errorf("not a number: %q", v)
		}
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
	if err != nil {
		return 0, err
	}
	// ParseFloat accepts "NaN" and "Inf"
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", raw)
	}
	return f, nil
}

func toInt(raw any, field reflect.Value) (int64, error) {
	f, err := toFloat(raw)
	if err != nil {
		return 0, err
	}
	f = math.Round(f)
	// float64(math.MaxInt64) rounds up to 2^63
	if f < math.MinInt64 || f >= math.MaxInt64 || field.OverflowInt(int64(f)) {
		return 0, fmt.Errorf("out of range for %s: %v", field.Kind(), raw)
	}
	return int64(f), nil
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case map[string]any:
		// Nested references such as {"id": 3, "name": "Acme"}.
		if _, id, ok := first(v, []string{"id", "pk", "uuid"}); ok {
			return toString(id)
		}
		return "", errors.New("object without id")
	default:
		return "", fmt.Errorf("not a string: %T", raw)
	}
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("not a bool: %q", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("not a bool: %T", raw)
	}
}

func toTime(raw any, loc *time.Location) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, v, loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("not a timestamp: %q", v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, fmt.Errorf("not a timestamp: %v", v)
		}
		return time.Unix(int64(v), 0).UTC(), nil
	case time.Time:
		return v, nil
	default:
		return time.Time{}, fmt.Errorf("not a timestamp: %T", raw)
	}
}
