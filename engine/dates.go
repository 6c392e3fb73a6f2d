package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// formatDate renders a time using PHP-style format characters, the
// notation the now tag and date filter accept. Supported characters:
//
//	d j  day of month (padded / unpadded)
//	D l  weekday (abbreviated / full)
//	m n  month number (padded / unpadded)
//	M F  month name (abbreviated / full)
//	y Y  year (two / four digits)
//	H G  24-hour (padded / unpadded)
//	i    minutes, padded
//	s    seconds, padded
//	a A  am/pm lower / upper
//	N    newline, for symmetry with backslash escaping
//
// A backslash escapes the next character; anything unrecognized passes
// through unchanged.
func formatDate(t time.Time, format string) string {
	var sb strings.Builder
	escaped := false
	for _, r := range format {
		if escaped {
			sb.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case 'd':
			sb.WriteString(fmt.Sprintf("%02d", t.Day()))
		case 'j':
			sb.WriteString(strconv.Itoa(t.Day()))
		case 'D':
			sb.WriteString(t.Weekday().String()[:3])
		case 'l':
			sb.WriteString(t.Weekday().String())
		case 'm':
			sb.WriteString(fmt.Sprintf("%02d", int(t.Month())))
		case 'n':
			sb.WriteString(strconv.Itoa(int(t.Month())))
		case 'M':
			sb.WriteString(t.Month().String()[:3])
		case 'F':
			sb.WriteString(t.Month().String())
		case 'y':
			sb.WriteString(fmt.Sprintf("%02d", t.Year()%100))
		case 'Y':
			sb.WriteString(strconv.Itoa(t.Year()))
		case 'H':
			sb.WriteString(fmt.Sprintf("%02d", t.Hour()))
		case 'G':
			sb.WriteString(strconv.Itoa(t.Hour()))
		case 'i':
			sb.WriteString(fmt.Sprintf("%02d", t.Minute()))
		case 's':
			sb.WriteString(fmt.Sprintf("%02d", t.Second()))
		case 'a':
			if t.Hour() < 12 {
				sb.WriteString("a.m.")
			} else {
				sb.WriteString("p.m.")
			}
		case 'A':
			if t.Hour() < 12 {
				sb.WriteString("AM")
			} else {
				sb.WriteString("PM")
			}
		case 'N':
			sb.WriteString("\n")
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
