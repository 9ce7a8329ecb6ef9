package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed /remind time specification.
type Schedule struct {
	DueAt time.Time
	Every time.Duration // 0 = one-shot
}

var errBadSpec = errors.New("unrecognized time spec")

// weekday names accepted by the "weekly" form. Three-letter prefixes work too.
var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// parseSchedule consumes the leading time-spec tokens of a /remind invocation
// and returns the schedule plus the remaining tokens (the reminder text).
//
// Accepted forms:
//
//	<duration>                10m, 2h, 1d, 1w, 1h30m
//	<HH:MM>                   today at that time, or tomorrow if already past
//	tomorrow [HH:MM]          default 09:00
//	daily <HH:MM>             recurring every 24h
//	weekly <weekday> <HH:MM>  recurring every 7 days
func parseSchedule(now time.Time, args []string) (Schedule, []string, error) {
	if len(args) == 0 {
		return Schedule{}, nil, errBadSpec
	}
	head := strings.ToLower(strings.TrimSpace(args[0]))

	switch head {
	case "tomorrow":
		hh, mm := 9, 0
		rest := args[1:]
		if len(rest) > 0 {
			if h, m, ok := parseClock(rest[0]); ok {
				hh, mm = h, m
				rest = rest[1:]
			}
		}
		due := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location()).AddDate(0, 0, 1)
		return Schedule{DueAt: due}, rest, nil

	case "daily":
		if len(args) < 2 {
			return Schedule{}, nil, fmt.Errorf("%w: daily needs a HH:MM time", errBadSpec)
		}
		hh, mm, ok := parseClock(args[1])
		if !ok {
			return Schedule{}, nil, fmt.Errorf("%w: %q is not HH:MM", errBadSpec, args[1])
		}
		due := nextClock(now, hh, mm)
		return Schedule{DueAt: due, Every: 24 * time.Hour}, args[2:], nil

	case "weekly":
		if len(args) < 3 {
			return Schedule{}, nil, fmt.Errorf("%w: weekly needs a weekday and a HH:MM time", errBadSpec)
		}
		wd, ok := parseWeekday(args[1])
		if !ok {
			return Schedule{}, nil, fmt.Errorf("%w: unknown weekday %q", errBadSpec, args[1])
		}
		hh, mm, ok := parseClock(args[2])
		if !ok {
			return Schedule{}, nil, fmt.Errorf("%w: %q is not HH:MM", errBadSpec, args[2])
		}
		due := nextWeekday(now, wd, hh, mm)
		return Schedule{DueAt: due, Every: 7 * 24 * time.Hour}, args[3:], nil
	}

	if h, m, ok := parseClock(head); ok {
		return Schedule{DueAt: nextClock(now, h, m)}, args[1:], nil
	}

	if d, err := parseSpan(head); err == nil {
		return Schedule{DueAt: now.Add(d)}, args[1:], nil
	}

	return Schedule{}, nil, fmt.Errorf("%w: %q", errBadSpec, args[0])
}

// parseSpan parses a duration with day and week units on top of the standard
// ones, e.g. "1d", "2w", "1h30m".
func parseSpan(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, errBadSpec
	}
	// Expand d/w into hours so time.ParseDuration can take over.
	var b strings.Builder
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			num += string(r)
		case r == 'd' || r == 'w':
			if num == "" {
				return 0, errBadSpec
			}
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, errBadSpec
			}
			hours := n * 24
			if r == 'w' {
				hours *= 7
			}
			b.WriteString(strconv.FormatFloat(hours, 'f', -1, 64))
			b.WriteByte('h')
			num = ""
		default:
			b.WriteString(num)
			num = ""
			b.WriteRune(r)
		}
	}
	b.WriteString(num)

	d, err := time.ParseDuration(b.String())
	if err != nil {
		return 0, errBadSpec
	}
	if d <= 0 {
		return 0, errBadSpec
	}
	return d, nil
}

func parseClock(s string) (hh, mm int, ok bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(s[:i])
	m, err2 := strconv.Atoi(s[i+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if wd, ok := weekdays[s]; ok {
		return wd, true
	}
	if len(s) >= 3 {
		for name, wd := range weekdays {
			if strings.HasPrefix(name, s) {
				return wd, true
			}
		}
	}
	return time.Sunday, false
}

// nextClock returns today's hh:mm, or tomorrow's if that moment has passed.
func nextClock(now time.Time, hh, mm int) time.Time {
	due := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if !due.After(now) {
		due = due.AddDate(0, 0, 1)
	}
	return due
}

// nextWeekday returns the next wd at hh:mm strictly after now.
func nextWeekday(now time.Time, wd time.Weekday, hh, mm int) time.Time {
	due := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	due = due.AddDate(0, 0, days)
	if !due.After(now) {
		due = due.AddDate(0, 0, 7)
	}
	return due
}
