package stores

import (
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime tolerates the timestamp formats different SQL drivers
// hand back for TIMESTAMP columns.
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
