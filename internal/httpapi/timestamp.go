package httpapi

import (
	"strings"
	"time"

	"geoattend/internal/apperr"
)

// naiveLayouts are accepted for timestamps without an offset; they are read
// in the server's configured location.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

func parseTimestamp(field, s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.New(apperr.KindBadRequest, "%s: expected an ISO-8601 timestamp, got %q", field, s)
}
