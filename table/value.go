package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Cells flowing through a stream are one of
//
//   nil, string, int64, float64, bool, time.Time
//
// Sources are free to produce other go scalar types, Normalize folds them into
// the set above before they reach any stage.

const (
	TypeUnknown = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
)

var typeNames = []string{"unknown", "string", "int", "float", "bool", "time"}

func TypeName(t int) string {
	if t < 0 || t >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

func ParseType(n string) (int, error) {
	switch strings.ToLower(n) {
	case "", "unknown":
		return TypeUnknown, nil
	case "string", "str", "text":
		return TypeString, nil
	case "int", "integer", "long":
		return TypeInt, nil
	case "float", "double", "real", "number":
		return TypeFloat, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "time", "date", "datetime", "timestamp":
		return TypeTime, nil
	default:
		return TypeUnknown, fmt.Errorf("unknown data type %q", n)
	}
}

// accepted text layouts for time cells, tried in order
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Normalize folds arbitrary go scalars into the cell value set.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, string, int64, float64, bool, time.Time:
		return v
	case []byte:
		return string(x)
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt64(x)
	case float32:
		return float64(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// TypeOf returns the type of a cell value without trying to parse strings.
func TypeOf(v interface{}) int {
	switch v.(type) {
	case string:
		return TypeString
	case int64:
		return TypeInt
	case float64:
		return TypeFloat
	case bool:
		return TypeBool
	case time.Time:
		return TypeTime
	default:
		return TypeUnknown
	}
}

// Infer returns the observed type of a cell, string cells are sniffed so that
// text sources like CSV get numeric and time columns.
func Infer(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return TypeOf(v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return TypeUnknown
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return TypeInt
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return TypeFloat
	}
	switch strings.ToLower(s) {
	case "true", "false":
		return TypeBool
	}
	if _, ok := parseTime(s); ok {
		return TypeTime
	}
	return TypeString
}

// IsEmpty tells whether the cell carries no sample, ie nil or blank text
func IsEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Coerce converts a cell into the given type. Blank text becomes nil for every
// non string type.
func Coerce(v interface{}, t int) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if t != TypeString && t != TypeUnknown && IsEmpty(v) {
		return nil, nil
	}

	switch t {
	case TypeString:
		return String(v), nil
	case TypeInt:
		if f, ok := v.(float64); ok {
			return int64(f), nil
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			return int64(f), nil
		}
		return cast.ToInt64E(v)
	case TypeFloat:
		if s, ok := v.(string); ok {
			return strconv.ParseFloat(strings.TrimSpace(s), 64)
		}
		return cast.ToFloat64E(v)
	case TypeBool:
		return cast.ToBoolE(v)
	case TypeTime:
		if s, ok := v.(string); ok {
			if t, ok := parseTime(strings.TrimSpace(s)); ok {
				return t, nil
			}
		}
		return cast.ToTimeE(v)
	default:
		return v, nil
	}
}

// ToFloat returns the numeric view of a cell, bool counts as 0/1.
func ToFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String renders a cell for display and for use as a label.
func String(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case time.Time:
		return 3
	default:
		return 4
	}
}

// Compare defines a total order over cells. nil sorts first, numbers compare
// across int and float, mixed kinds order by kind.
func Compare(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case int64:
		if y, ok := b.(int64); ok {
			return cmpInt(x, y)
		}
		return cmpFloat(float64(x), b.(float64))
	case float64:
		if y, ok := b.(int64); ok {
			return cmpFloat(x, float64(y))
		}
		return cmpFloat(x, b.(float64))
	case time.Time:
		y := b.(time.Time)
		if x.Before(y) {
			return -1
		}
		if x.After(y) {
			return 1
		}
		return 0
	default:
		return strings.Compare(String(a), String(b))
	}
}

func cmpInt(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func Equal(a, b interface{}) bool {
	return Compare(a, b) == 0
}

// Key renders a cell into a string usable as a hash key, distinct values of
// different kinds never collide.
func Key(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case int64:
		return "d:" + strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e18 {
			return "d:" + strconv.FormatInt(int64(x), 10)
		}
		return "d:" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case time.Time:
		return "t:" + strconv.FormatInt(x.UnixNano(), 10)
	default:
		return "s:" + String(v)
	}
}

// RowKey renders a list of cells into a single hash key
func RowKey(cells []interface{}) string {
	b := strings.Builder{}
	for i, c := range cells {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(Key(c))
	}
	return b.String()
}
