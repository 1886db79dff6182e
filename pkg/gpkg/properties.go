package gpkg

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pdok/tilevec/feature"
)

// propertyValue converts an attribute value to what is stored for the property type
//
//nolint:cyclop
func propertyValue(t feature.PropertyType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case feature.String:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		}
	case feature.Int, feature.Int32, feature.Int64:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		}
	case feature.Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case feature.Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case feature.Bytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case feature.Date, feature.DateTime, feature.Time:
		switch d := v.(type) {
		case string:
			return d, nil
		case time.Time:
			return formatTime(t, d), nil
		}
	}
	return nil, fmt.Errorf("value %v of type %T cannot be stored as %s", v, v, t)
}

func formatTime(t feature.PropertyType, d time.Time) string {
	switch t {
	case feature.Date:
		return d.Format(time.DateOnly)
	case feature.Time:
		return d.Format(time.TimeOnly)
	default:
		return d.Format(time.RFC3339)
	}
}

// columnValue converts a value scanned from sqlite to an attribute value, BLOB columns stay bytes
func columnValue(name, ctype string, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case []uint8:
		asBytes := make([]byte, len(val))
		copy(asBytes, val)
		if strings.EqualFold(ctype, "BLOB") {
			return asBytes, nil
		}
		return string(asBytes), nil
	case int64, float64, bool, time.Time, string, nil:
		return val, nil
	default:
		return nil, fmt.Errorf("unexpected type for sqlite column data: %v: %T", name, val)
	}
}
