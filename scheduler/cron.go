// Package scheduler translates cron specifications into queued jobs.
//
// The cron grammar is bespoke: requires a 7-field expression
// (second minute hour day-of-month month day-of-week year) with an
// explicit year field. github.com/robfig/cron tops out at 6 fields with
// no year support, so the parser below is hand-written, following
// robfig/cron's field syntax (`*`, comma lists, `a-b` ranges, `*/n`
// steps) as its grammar baseline.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSpec is one of the 7 whitespace-separated fields of a cron
// expression, expanded into the set of concrete values it matches.
type fieldSpec struct {
	values map[int]bool
	star   bool
}

func (f fieldSpec) matches(v int) bool {
	if f.star {
		return true
	}
	return f.values[v]
}

// CronExpression is a parsed 7-field cron expression.
type CronExpression struct {
	second, minute, hour, dom, month, dow, year fieldSpec
	raw                                         string
}

// Parse parses a 7-field cron expression: sec min hour day month weekday year.
func Parse(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 7 {
		return nil, fmt.Errorf("cron expression %q must have 7 fields (sec min hour day month weekday year), got %d", expr, len(fields))
	}

	ranges := []struct {
		name     string
		min, max int
	}{
		{"second", 0, 59},
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day", 1, 31},
		{"month", 1, 12},
		{"weekday", 0, 6},
		{"year", 1970, 2200},
	}

	parsed := make([]fieldSpec, 7)
	for i, r := range ranges {
		spec, err := parseField(fields[i], r.min, r.max)
		if err != nil {
			return nil, fmt.Errorf("cron field %q (%s): %w", fields[i], r.name, err)
		}
		parsed[i] = spec
	}

	return &CronExpression{
		second: parsed[0],
		minute: parsed[1],
		hour:   parsed[2],
		dom:    parsed[3],
		month:  parsed[4],
		dow:    parsed[5],
		year:   parsed[6],
		raw:    expr,
	}, nil
}

func parseField(field string, min, max int) (fieldSpec, error) {
	if field == "*" {
		return fieldSpec{star: true}, nil
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, min, max, values); err != nil {
			return fieldSpec{}, err
		}
	}
	return fieldSpec{values: values}, nil
}

func parsePart(part string, min, max int, values map[int]bool) error {
	step := 1
	base := part

	if idx := strings.Index(part, "/"); idx != -1 {
		base = part[:idx]
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return fmt.Errorf("invalid step in %q", part)
		}
		step = s
	}

	var lo, hi int
	switch {
	case base == "*":
		lo, hi = min, max
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		if len(bounds) != 2 {
			return fmt.Errorf("invalid range %q", base)
		}
		var err error
		lo, err = strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("invalid range start %q", bounds[0])
		}
		hi, err = strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("invalid range end %q", bounds[1])
		}
	default:
		v, err := strconv.Atoi(base)
		if err != nil {
			return fmt.Errorf("invalid value %q", base)
		}
		lo, hi = v, v
	}

	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("value out of range [%d,%d] in %q", min, max, part)
	}

	for v := lo; v <= hi; v += step {
		values[v] = true
	}
	return nil
}

// Next returns the first instant strictly after `from` (interpreted in
// loc) that matches the expression, or the zero Value and false if no
// match exists within a 8-year search horizon (guards against
// pathological expressions like an unreachable year list).
func (c *CronExpression) Next(from time.Time, loc *time.Location) (time.Time, bool) {
	t := from.In(loc).Truncate(time.Second).Add(time.Second)
	horizon := from.AddDate(8, 0, 0)

	for t.Before(horizon) {
		if !c.year.matches(t.Year()) {
			// jump to Jan 1 of next candidate year
			t = time.Date(t.Year()+1, 1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !c.month.matches(int(t.Month())) {
			t = firstOfNextMonth(t, loc)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
			continue
		}
		if !c.hour.matches(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc).Add(time.Hour)
			continue
		}
		if !c.minute.matches(t.Minute()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc).Add(time.Minute)
			continue
		}
		if !c.second.matches(t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// dayMatches applies cron's day-field OR rule: when neither day-of-month
// nor day-of-week is `*`, a day matches if it satisfies either field.
func (c *CronExpression) dayMatches(t time.Time) bool {
	domMatch := c.dom.matches(t.Day())
	dowMatch := c.dow.matches(int(t.Weekday()))

	if c.dom.star && c.dow.star {
		return true
	}
	if c.dom.star {
		return dowMatch
	}
	if c.dow.star {
		return domMatch
	}
	return domMatch || dowMatch
}

func firstOfNextMonth(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
}

// String returns the original expression text.
func (c *CronExpression) String() string { return c.raw }
