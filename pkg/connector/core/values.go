package core

import (
	"fmt"
	"strconv"
)

func toString(v interface{}) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Int returns the value of column name as an int, or 0 when it is absent
// or not numeric.
func (r Row) Int(name string) int {
	switch v := r[name].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int16:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		n, err := strconv.Atoi(r.String(name))
		if err != nil {
			return 0
		}
		return n
	}
}
