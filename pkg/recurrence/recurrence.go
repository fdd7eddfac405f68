// Package recurrence computes the next occurrence of a content plan.
package recurrence

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Advance returns the next nominal occurrence of rule strictly after
// startsAt, with startsAt as the rule's DTSTART. ok is false when the plan
// has no further occurrence: the rule is empty, unparsable, or exhausted.
// Whether the returned time is already in the past is left to the caller.
func Advance(startsAt time.Time, rule string) (next time.Time, ok bool) {
	r, err := Parse(rule, startsAt)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	next = r.After(startsAt, false)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// Parse parses an RFC 5545 recurrence rule anchored at dtstart. It accepts
// a bare rule ("FREQ=DAILY"), an "RRULE:" line, or a multi-line block in
// which the RRULE line is used and any DTSTART line is ignored. A blank
// rule yields a nil rule and no error.
func Parse(rule string, dtstart time.Time) (*rrule.RRule, error) {
	line := ruleLine(rule)
	if line == "" {
		return nil, nil
	}
	opt, err := rrule.StrToROption(line)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

func ruleLine(rule string) string {
	for _, line := range strings.FieldsFunc(rule, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "RRULE:"):
			return line[len("RRULE:"):]
		case strings.HasPrefix(upper, "DTSTART"):
			continue
		case line != "":
			return line
		}
	}
	return ""
}
