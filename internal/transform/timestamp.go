package transform

import "fmt"

var monthAlpha = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

type iso8601State int

const (
	waitDay iso8601State = iota
	waitMonth
	waitYear
	waitHour
	waitMin
	waitSec
)

// ISO8601 converts an nginx-style access-log timestamp, e.g.
// "28/Feb/2015:12:30:23 +0800", into "2015-02-28T12:30:23". It stops at the
// first space (the timezone offset, if present, is discarded), matching
// original_source/src/tail2kafka.cc's iso8601().
func ISO8601(t string) (string, bool) {
	state := waitDay
	var year, mon, day, hour, min, sec int

	for i := 0; i < len(t) && t[i] != ' '; i++ {
		c := t[i]
		switch {
		case c == '/':
			switch state {
			case waitDay:
				state = waitMonth
			case waitMonth:
				state = waitYear
			default:
				return "", false
			}
		case c == ':':
			switch state {
			case waitYear:
				state = waitHour
			case waitHour:
				state = waitMin
			case waitMin:
				state = waitSec
			default:
				return "", false
			}
		case c >= '0' && c <= '9':
			n := int(c - '0')
			switch state {
			case waitYear:
				year = year*10 + n
			case waitDay:
				day = day*10 + n
			case waitHour:
				hour = hour*10 + n
			case waitMin:
				min = min*10 + n
			case waitSec:
				sec = sec*10 + n
			default:
				return "", false
			}
		case state == waitMonth:
			if i+3 > len(t) {
				return "", false
			}
			matched := false
			for m, name := range monthAlpha {
				if t[i:i+3] == name {
					mon = m + 1
					matched = true
					break
				}
			}
			if !matched {
				return "", false
			}
			i += 2
		default:
			return "", false
		}
	}

	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", year, mon, day, hour, min, sec), true
}
