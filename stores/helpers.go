package stores

import (
	"time"

	"github.com/oarkflow/date"
)

// rowScanner is the slice of a result row the scan helpers need.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTime normalizes driver-dependent timestamp representations. sqlite
// hands back strings, other drivers time.Time or []byte.
func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := date.Parse(v); err == nil {
			return t
		}
	case []byte:
		if t, err := date.Parse(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
