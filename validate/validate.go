// Package validate holds the pure normalization gate applied to every slot
// candidate before it is trusted. Validators are deterministic, do no I/O and
// are idempotent: feeding a validator its own normalized output returns the
// same value.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Func maps a raw candidate to its normalized form or a typed rejection.
type Func func(raw string) (string, error)

const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
}

var yearlessLayouts = []string{
	"Jan 2",
	"January 2",
	"01/02",
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// DateOptions tunes a date validator. The zero value accepts any parseable date.
type DateOptions struct {
	// AllowPast accepts dates before the reference day.
	AllowPast bool
}

// Date builds a validator resolving absolute and relative dates against the
// given reference time. The reference is fixed at construction so the
// resulting Func stays deterministic.
func Date(ref time.Time, opts DateOptions) Func {
	refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	finish := func(day time.Time) (string, error) {
		if !opts.AllowPast && day.Before(refDay) {
			return "", reject(OutOfRange, fmt.Sprintf("date %s is in the past", day.Format(DateLayout)))
		}
		return day.Format(DateLayout), nil
	}
	return func(raw string) (string, error) {
		text := strings.TrimSpace(raw)
		if text == "" {
			return "", reject(WrongFormat, "empty date")
		}
		for _, layout := range dateLayouts {
			if day, err := time.Parse(layout, text); err == nil {
				return finish(day)
			}
		}
		for _, layout := range yearlessLayouts {
			if day, err := time.Parse(layout, text); err == nil {
				return finish(time.Date(refDay.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC))
			}
		}
		lower := strings.ToLower(text)
		switch lower {
		case "today":
			return finish(refDay)
		case "tomorrow":
			return finish(refDay.AddDate(0, 0, 1))
		case "next week":
			// More than one resolution; offer the coming Monday as a candidate.
			candidate := refDay.AddDate(0, 0, daysUntil(refDay.Weekday(), time.Monday))
			return "", ambiguous("\"next week\" does not name a single day", candidate.Format(DateLayout))
		case "next month":
			candidate := time.Date(refDay.Year(), refDay.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			return "", ambiguous("\"next month\" does not name a single day", candidate.Format(DateLayout))
		}
		day := lower
		if rest, ok := strings.CutPrefix(lower, "next "); ok {
			day = rest
		}
		if wd, ok := weekdays[day]; ok {
			return finish(refDay.AddDate(0, 0, daysUntil(refDay.Weekday(), wd)))
		}
		return "", reject(WrongFormat, fmt.Sprintf("cannot parse %q as a date", raw))
	}
}

// daysUntil returns the offset to the next occurrence of target, counting the
// reference day itself as a match.
func daysUntil(from, target time.Weekday) int {
	return (int(target) - int(from) + 7) % 7
}

// Phone normalizes phone numbers to a bare digit string, keeping a leading
// plus sign when present.
func Phone() Func {
	return func(raw string) (string, error) {
		text := strings.TrimSpace(raw)
		if text == "" {
			return "", reject(WrongFormat, "empty phone number")
		}
		plus := strings.HasPrefix(text, "+")
		var digits strings.Builder
		for _, ch := range strings.TrimPrefix(text, "+") {
			switch {
			case ch >= '0' && ch <= '9':
				digits.WriteRune(ch)
			case ch == ' ' || ch == '-' || ch == '.' || ch == '(' || ch == ')':
				// separators are dropped
			default:
				return "", reject(WrongFormat, fmt.Sprintf("unexpected character %q in phone number", ch))
			}
		}
		n := digits.Len()
		if n < 7 || n > 15 {
			return "", reject(OutOfRange, fmt.Sprintf("phone number must have 7-15 digits, got %d", n))
		}
		if plus {
			return "+" + digits.String(), nil
		}
		return digits.String(), nil
	}
}

// Enum accepts only members of the allowed set, matching case-insensitively
// and normalizing to the declared spelling.
func Enum(allowed []string) Func {
	canonical := make(map[string]string, len(allowed))
	for _, v := range allowed {
		canonical[strings.ToLower(strings.TrimSpace(v))] = v
	}
	return func(raw string) (string, error) {
		key := strings.ToLower(strings.TrimSpace(raw))
		if v, ok := canonical[key]; ok {
			return v, nil
		}
		return "", reject(WrongFormat, fmt.Sprintf("%q is not one of: %s", raw, strings.Join(allowed, ", ")))
	}
}

// Text trims whitespace and enforces length bounds. A maxLen of 0 means unbounded.
func Text(minLen, maxLen int) Func {
	return func(raw string) (string, error) {
		text := strings.TrimSpace(raw)
		n := len([]rune(text))
		if n < minLen {
			return "", reject(OutOfRange, fmt.Sprintf("text must be at least %d characters", minLen))
		}
		if maxLen > 0 && n > maxLen {
			return "", reject(OutOfRange, fmt.Sprintf("text must be at most %d characters", maxLen))
		}
		return text, nil
	}
}

// Number parses a decimal number and enforces an inclusive range. A max of 0
// with min 0 means unbounded.
func Number(min, max float64) Func {
	return func(raw string) (string, error) {
		text := strings.TrimSpace(raw)
		text = strings.TrimPrefix(text, "$")
		text = strings.ReplaceAll(text, ",", "")
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return "", reject(WrongFormat, fmt.Sprintf("cannot parse %q as a number", raw))
		}
		if v < min {
			return "", reject(OutOfRange, fmt.Sprintf("value must be at least %g", min))
		}
		if max > 0 && v > max {
			return "", reject(OutOfRange, fmt.Sprintf("value must be at most %g", max))
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
}
