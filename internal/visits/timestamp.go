package visits

import (
	"fmt"
	"strconv"
	"time"
)

// seconds from 1601-01-01 to 1970-01-01
const epochDelta = 11644473600

const timestampLayout = "20060102150405"

// ParseTimestamp converts "YYYY[MM[DD[HH[MM[SS]]]]]" (UTC) to microseconds
// since 1601-01-01. Omitted month and day default to 1, the rest to 0.
func ParseTimestamp(s string) (int64, error) {
	if len(s) < 4 || len(s) > 14 || len(s)%2 != 0 {
		return 0, fmt.Errorf("timestamp %q: want YYYY[MM[DD[HH[MM[SS]]]]]", s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("timestamp %q: not a decimal date", s)
		}
	}
	parts := [6]int{0, 1, 1, 0, 0, 0}
	for i, start := 0, 0; start < len(s); i++ {
		end := start + 2
		if i == 0 {
			end = 4
		}
		parts[i], _ = strconv.Atoi(s[start:end])
		start = end
	}
	t := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], 0, time.UTC)
	if t.Month() != time.Month(parts[1]) || t.Day() != parts[2] || t.Hour() != parts[3] ||
		t.Minute() != parts[4] || t.Second() != parts[5] {
		return 0, fmt.Errorf("timestamp %q: date out of range", s)
	}
	return (t.Unix()+epochDelta)*1_000_000 + int64(t.Nanosecond()/1000), nil
}

// FormatTimestamp is the inverse of ParseTimestamp, always YYYYMMDDHHMMSS.
func FormatTimestamp(us int64) string {
	return Time(us).Format(timestampLayout)
}

// Time converts microseconds since 1601-01-01 to a UTC time.
func Time(us int64) time.Time {
	sec := us / 1_000_000
	rem := us % 1_000_000
	if rem < 0 {
		sec--
		rem += 1_000_000
	}
	return time.Unix(sec-epochDelta, rem*1000).UTC()
}
