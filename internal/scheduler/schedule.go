package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalSchedule runs a task at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an interval schedule.
func Every(d time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: d}
}

// Next returns the next run time.
func (s *IntervalSchedule) Next(after time.Time) time.Time {
	return after.Add(s.Interval)
}

// bitset holds the allowed values of one cron field (all fields are < 64).
type bitset uint64

func (b bitset) has(v int) bool { return b&(1<<uint(v)) != 0 }

// CronSchedule is a five-field cron expression:
// minute hour day-of-month month day-of-week.
// Each field takes *, */n, n, n-m, n-m/s and comma lists of those.
type CronSchedule struct {
	expr                   string
	minute, hour, dom, mon bitset
	dow                    bitset
	domStar, dowStar       bool
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Cron parses a cron expression, e.g. "0 3 * * *" for daily at 03:00.
func Cron(expr string) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	var sets [5]bitset
	for i, f := range cronFields {
		set, err := parseCronField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", f.name, err)
		}
		sets[i] = set
	}

	return &CronSchedule{
		expr:    expr,
		minute:  sets[0],
		hour:    sets[1],
		dom:     sets[2],
		mon:     sets[3],
		dow:     sets[4],
		domStar: parts[2] == "*",
		dowStar: parts[4] == "*",
	}, nil
}

// MustCron parses a cron expression and panics on error.
func MustCron(expr string) *CronSchedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *CronSchedule) String() string { return s.expr }

// dayMatches follows cron's rule: when both day fields are restricted,
// either may match.
func (s *CronSchedule) dayMatches(t time.Time) bool {
	dom := s.dom.has(t.Day())
	dow := s.dow.has(int(t.Weekday()))
	switch {
	case s.domStar && s.dowStar:
		return true
	case s.domStar:
		return dow
	case s.dowStar:
		return dom
	default:
		return dom || dow
	}
}

// Next returns the first matching minute strictly after after, or the
// zero time if none exists within four years.
func (s *CronSchedule) Next(after time.Time) time.Time {
	loc := after.Location()
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(4, 0, 0)

	for t.Before(limit) {
		switch {
		case !s.mon.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
		case !s.dayMatches(t):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
		case !s.hour.has(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
		case !s.minute.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

func parseCronField(field string, lo, hi int) (bitset, error) {
	var set bitset
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		step := 1
		if base, stepStr, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step: %s", part)
			}
			step, part = n, base
		}

		start, end := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var errA, errB error
			start, errA = strconv.Atoi(a)
			end, errB = strconv.Atoi(b)
			if errA != nil || errB != nil || start < lo || end > hi || start > end {
				return 0, fmt.Errorf("invalid range: %s", part)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("invalid value: %s", part)
			}
			if v < lo || v > hi {
				return 0, fmt.Errorf("value out of range: %d", v)
			}
			start, end = v, v
		}

		for v := start; v <= end; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}
