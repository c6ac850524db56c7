package utils

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ToString renders a database value as text. NULL becomes "".
func ToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case driver.Valuer:
		dv, err := val.Value()
		if err != nil || dv == nil {
			return ""
		}
		return ToString(dv)
	default:
		return fmt.Sprint(val)
	}
}
