package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parser converts a raw request parameter into a typed value
type Parser func(raw any) (any, error)

// Parsers holds the named parameter parsers used by context declarations
// and field filters.
var Parsers = map[string]Parser{
	"int":         ParseInt,
	"int_or_zero": IntOrZero,
	"int_or_none": IntOrNone,
	"int_list":    IntList,
	"string":      ParseString,
	"unicode":     ParseString,
	"boolean":     ParseBool,
	"float":       ParseFloat,
	"decimal":     ParseDecimal,
	"date":        ParseDate,
	"datetime":    ParseDateTime,
	"time":        ParseTime,
}

// ParseString returns the parameter as text
func ParseString(raw any) (any, error) {
	if raw == nil {
		return "", nil
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	return fmt.Sprint(raw), nil
}

// ParseInt requires a valid integer
func ParseInt(raw any) (any, error) {
	if i, ok := asInt(raw); ok {
		return int(i), nil
	}
	if f, ok := raw.(float64); ok && f == float64(int(f)) {
		return int(f), nil
	}
	s := strings.TrimSpace(fmt.Sprint(raw))
	i, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return i, nil
}

// IntOrZero parses an integer, falling back to 0
func IntOrZero(raw any) (any, error) {
	v, err := ParseInt(raw)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

// IntOrNone parses an integer, falling back to nil
func IntOrNone(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := ParseInt(raw)
	if err != nil {
		return nil, nil
	}
	return v, nil
}

// IntList parses "1,2,3" (or a list of numbers) into []int; empty items are skipped
func IntList(raw any) (any, error) {
	if raw == nil {
		return []int{}, nil
	}
	var items []any
	if s, ok := raw.(string); ok {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	} else if list, ok := asSlice(raw); ok {
		items = list
	} else {
		items = []any{raw}
	}

	out := make([]int, 0, len(items))
	for _, item := range items {
		v, err := ParseInt(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v.(int))
	}
	return out, nil
}

// ParseBool accepts true/1/on/yes in any case
func ParseBool(raw any) (any, error) {
	if b, ok := raw.(bool); ok {
		return b, nil
	}
	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(raw))) {
	case "true", "1", "on", "yes":
		return true, nil
	}
	return false, nil
}

// ParseFloat accepts both "." and "," as decimal separator
func ParseFloat(raw any) (any, error) {
	if f, ok := asFloat(raw); ok {
		return f, nil
	}
	s := strings.ReplaceAll(strings.TrimSpace(fmt.Sprint(raw)), ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

// ParseDecimal is ParseFloat; records carry decimals as float64
func ParseDecimal(raw any) (any, error) {
	return ParseFloat(raw)
}

// ParseDate parses DD.MM.YYYY or YYYY-MM-DD
func ParseDate(raw any) (any, error) {
	if t, ok := raw.(time.Time); ok {
		return t, nil
	}
	t, ok := StrToDate(fmt.Sprint(raw))
	if !ok {
		return nil, fmt.Errorf("invalid date %q", raw)
	}
	return t, nil
}

var dateTimeLayouts = []string{
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDateTime accepts the grid's "DD.MM.YYYY HH:MM:SS" form, ISO 8601, or a bare date
func ParseDateTime(raw any) (any, error) {
	if t, ok := raw.(time.Time); ok {
		return t, nil
	}
	s := strings.TrimSpace(fmt.Sprint(raw))
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return ParseDate(s)
}

// ParseTime parses HH:MM or HH:MM:SS into a time on the zero date
func ParseTime(raw any) (any, error) {
	if t, ok := raw.(time.Time); ok {
		return t, nil
	}
	s := strings.TrimSpace(fmt.Sprint(raw))
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q", s)
}

// StrToDate extracts a date from the first ten characters of s, trying
// DD.MM.YYYY then YYYY.MM.DD ("-" is read as ".").
func StrToDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if len(s) > 10 {
		s = s[:10]
	}
	s = strings.ReplaceAll(s, "-", ".")
	for _, layout := range []string{"02.01.2006", "2006.01.02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a time the way grids expect it: DD.MM.YYYY, with
// HH:MM:SS appended when the time of day is set.
func FormatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("02.01.2006")
	}
	return t.Format("02.01.2006 15:04:05")
}
