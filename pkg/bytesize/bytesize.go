// Package bytesize parses and formats the byte sizes used in chunkloader
// configuration and log output.
package bytesize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Binary byte size units.
const (
	B  int64 = 1
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB
	TB int64 = 1024 * GB
)

// sizePattern matches size strings like "64MB", "1.5 GB", "65536"
var sizePattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([a-zA-Z]*)\s*$`)

// Parse parses a byte size string like "64KB", "1.5GB", or "1024" into bytes.
// Units are binary and case-insensitive: B, KB/K/KiB, MB/M/MiB, GB/G/GiB,
// TB/T/TiB. A bare number is bytes.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	multiplier, err := unitMultiplier(matches[2])
	if err != nil {
		return 0, err
	}

	// Whole numbers stay in integer arithmetic so large sizes are exact.
	if n, err := strconv.ParseInt(matches[1], 10, 64); err == nil {
		if n > math.MaxInt64/multiplier {
			return 0, fmt.Errorf("size %q overflows int64", s)
		}
		return n * multiplier, nil
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", matches[1])
	}
	bytes := value * float64(multiplier)
	if bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows int64", s)
	}
	return int64(bytes), nil
}

func unitMultiplier(unit string) (int64, error) {
	switch strings.ToUpper(unit) {
	case "", "B":
		return B, nil
	case "KB", "K", "KIB":
		return KB, nil
	case "MB", "M", "MIB":
		return MB, nil
	case "GB", "G", "GIB":
		return GB, nil
	case "TB", "T", "TIB":
		return TB, nil
	default:
		return 0, fmt.Errorf("unknown unit: %q", unit)
	}
}

// MustParse is like Parse but panics on error.
func MustParse(s string) int64 {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format formats a byte count into a human-readable string. Exact multiples
// of a unit print without decimals ("64 KB"), others with two ("1.50 MB").
func Format(bytes int64) string {
	if bytes < 0 {
		return "-" + Format(-bytes)
	}

	units := []struct {
		threshold int64
		unit      string
	}{
		{TB, "TB"},
		{GB, "GB"},
		{MB, "MB"},
		{KB, "KB"},
	}

	for _, u := range units {
		if bytes >= u.threshold {
			if bytes%u.threshold == 0 {
				return fmt.Sprintf("%d %s", bytes/u.threshold, u.unit)
			}
			return fmt.Sprintf("%.2f %s", float64(bytes)/float64(u.threshold), u.unit)
		}
	}

	return fmt.Sprintf("%d B", bytes)
}
