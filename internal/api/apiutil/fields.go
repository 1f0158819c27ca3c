package apiutil

import (
	"fmt"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// ParseID parses a positive int64 from a path or query value.
func ParseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

// ParseDate parses a calendar date in "YYYY-MM-DD" form.
func ParseDate(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a YYYY-MM-DD date", name)
	}
	return t, nil
}

// RequirePositive validates a decoded JSON number field.
func RequirePositive(name string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("%s must be a positive integer", name)
	}
	return nil
}
