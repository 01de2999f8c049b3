package firebird

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04:05"
	timestampLayout = "2006-01-02 15:04:05"
	fractionLayout  = ".0000"
	offsetLayout    = " -07:00"
)

// FormatValue renders a driver value for CSV output and watermarks. Temporal
// values use fixed layouts so that rendered watermarks order lexically;
// fractions are only printed when present, at Firebird's 1/10000s precision.
func (d *Dialect) FormatValue(value interface{}, databaseType string) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return formatTime(v, databaseType)
	case decimal.Decimal:
		return v.String()
	case *big.Int:
		return v.String()
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}

func formatTime(t time.Time, databaseType string) string {
	// drivers spell the zoned types with or without the inner space
	switch strings.Replace(databaseType, "TIMEZONE", "TIME ZONE", 1) {
	case "DATE":
		return t.Format(dateLayout)
	case "TIME", "TIME WITH TIME ZONE":
		return t.Format(timeLayout + withFraction(t))
	case "TIMESTAMP WITH TIME ZONE":
		return t.Format(timestampLayout + withFraction(t) + offsetLayout)
	default:
		return t.Format(timestampLayout + withFraction(t))
	}
}

func withFraction(t time.Time) string {
	if t.Nanosecond()/100000 == 0 {
		return ""
	}
	return fractionLayout
}
