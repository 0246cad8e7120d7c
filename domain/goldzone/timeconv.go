package goldzone

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// toTime converts a batch timestamp cell. Integer and float values are epoch
// nanoseconds. ok is false for null or "NA" cells.
func toTime(v any) (t time.Time, ok bool, err error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return val.UTC(), true, nil
	case int64:
		return time.Unix(0, val).UTC(), true, nil
	case int:
		return time.Unix(0, int64(val)).UTC(), true, nil
	case float64:
		return fromEpochNanos(val), true, nil
	case json.Number:
		if n, convErr := val.Int64(); convErr == nil {
			return time.Unix(0, n).UTC(), true, nil
		}
		f, convErr := val.Float64()
		if convErr != nil {
			return time.Time{}, false, convErr
		}
		return fromEpochNanos(f), true, nil
	case string:
		if val == "" || val == RouterFunctionDefault {
			return time.Time{}, false, nil
		}
		if ts, parseErr := time.Parse(time.RFC3339Nano, val); parseErr == nil {
			return ts.UTC(), true, nil
		}
		if n, parseErr := strconv.ParseInt(val, 10, 64); parseErr == nil {
			return time.Unix(0, n).UTC(), true, nil
		}
		return time.Time{}, false, fmt.Errorf("unrecognised timestamp %q", val)
	}
	return time.Time{}, false, fmt.Errorf("unsupported timestamp type %T", v)
}

func fromEpochNanos(f float64) time.Time {
	sec, frac := math.Modf(f / 1e9)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// CellTime parses a timestamp cell as read back from the table store. ok is
// false for null or "NA" cells.
func CellTime(v any) (time.Time, bool, error) {
	return toTime(v)
}
