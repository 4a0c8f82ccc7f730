package utils

import "time"

// Days converts a possibly fractional day count into a duration.
func Days(days float64) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days * float64(24*time.Hour))
}
