// Package datescan finds long-form, locale specific date/time mentions in
// free text, such as the "sent on" line that mail clients print.
package datescan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Locale describes one long-date format as it appears in document text.
type Locale struct {
	Name    string
	pattern *regexp.Regexp
	parse   func(groups []string, loc *time.Location) (time.Time, error)
}

var frenchMonths = map[string]time.Month{
	"janvier": time.January, "février": time.February, "fevrier": time.February,
	"mars": time.March, "avril": time.April, "mai": time.May, "juin": time.June,
	"juillet": time.July, "août": time.August, "aout": time.August,
	"septembre": time.September, "octobre": time.October, "novembre": time.November,
	"décembre": time.December, "decembre": time.December,
}

var englishMonths = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// French matches "1 mars 2024 à 09:15".
var French = Locale{
	Name: "fr",
	pattern: regexp.MustCompile(`(?i)(\d{1,2})\s+(janvier|février|fevrier|mars|avril|mai|juin|juillet|août|aout|septembre|octobre|novembre|décembre|decembre)\s+(\d{4})\s+à\s+(\d{1,2}):(\d{2})`),
	parse: func(g []string, loc *time.Location) (time.Time, error) {
		return build(g[3], frenchMonths[strings.ToLower(g[2])], g[1], g[4], g[5], "", loc)
	},
}

// English matches "March 1, 2024 at 9:15 AM" and "March 1, 2024 at 09:15".
var English = Locale{
	Name: "en",
	pattern: regexp.MustCompile(`(?i)(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2}),?\s+(\d{4})\s+at\s+(\d{1,2}):(\d{2})(?:\s*([ap]m))?`),
	parse: func(g []string, loc *time.Location) (time.Time, error) {
		return build(g[3], englishMonths[strings.ToLower(g[1])], g[2], g[4], g[5], strings.ToLower(g[6]), loc)
	},
}

// Lookup returns the locale registered under name.
func Lookup(name string) (Locale, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "fr":
		return French, nil
	case "en":
		return English, nil
	default:
		return Locale{}, fmt.Errorf("unsupported date locale %q", name)
	}
}

// Last returns the final parseable date in text. Documents quote earlier
// messages above the send line, so the last occurrence is the one that counts.
func (l Locale) Last(text string, loc *time.Location) (time.Time, bool) {
	if l.pattern == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	matches := l.pattern.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if t, err := l.parse(matches[i], loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// All returns every parseable date in text, in order of appearance.
func (l Locale) All(text string, loc *time.Location) []time.Time {
	if l.pattern == nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	var out []time.Time
	for _, m := range l.pattern.FindAllStringSubmatch(text, -1) {
		if t, err := l.parse(m, loc); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func build(yearRaw string, month time.Month, dayRaw, hourRaw, minuteRaw, meridiem string, loc *time.Location) (time.Time, error) {
	if month == 0 {
		return time.Time{}, fmt.Errorf("unknown month")
	}
	year, err := strconv.Atoi(yearRaw)
	if err != nil {
		return time.Time{}, err
	}
	day, err := strconv.Atoi(dayRaw)
	if err != nil {
		return time.Time{}, err
	}
	hour, err := strconv.Atoi(hourRaw)
	if err != nil {
		return time.Time{}, err
	}
	minute, err := strconv.Atoi(minuteRaw)
	if err != nil {
		return time.Time{}, err
	}

	switch meridiem {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return time.Time{}, fmt.Errorf("hour %d out of range for %s", hour, meridiem)
		}
		hour %= 12
		if meridiem == "pm" {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("time %02d:%02d out of range", hour, minute)
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	// time.Date normalizes 31 February into March; reject instead.
	if t.Day() != day || t.Month() != month {
		return time.Time{}, fmt.Errorf("day %d out of range for %s %d", day, month, year)
	}
	return t, nil
}
