package alert

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Labels of a watch block. Matching is case-insensitive; the value is the next
// non-blank line after the label.
const (
	labelTicker       = "Ticker"
	labelCurrentPrice = "Current Price"
	labelLambda       = "Lambda Level"
	labelFailSafe     = "Fail-Safe"
	labelUpsidePT1    = "Upside PT1"
	labelUpsidePT2    = "Upside PT2"
	labelUpsidePT3    = "Upside PT3"
	labelDownsidePT1  = "Downside PT1"
	labelDownsidePT2  = "Downside PT2"
	labelDownsidePT3  = "Downside PT3"
)

// ParseError reports a watch block that could not be parsed. Label names the
// offending field; Cause is nil when the field is missing entirely.
type ParseError struct {
	Label string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("missing field %s", e.Label)
	}
	return fmt.Sprintf("bad value for %s: %v", e.Label, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ParseMessage turns a pasted watch block into an Alert bound to dest. The
// block alternates label and value lines; blank lines are dropped before
// pairing and the first occurrence of a label wins. Each numeric level's
// direction is frozen against the block's Current Price. ParseMessage does no
// I/O and never touches the registry.
func ParseMessage(raw string, dest Destination) (Alert, error) {
	lines := fieldLines(raw)

	symbol, err := parseField(lines, labelTicker)
	if err != nil {
		return Alert{}, err
	}
	current, err := parseFloatField(lines, labelCurrentPrice)
	if err != nil {
		return Alert{}, err
	}

	targets := []struct {
		field string
		label string
	}{
		{labelLambda, "Lambda"},
		{labelFailSafe, "FAIL SAFE"},
		{labelUpsidePT1, "PT1 Upside"},
		{labelUpsidePT2, "PT2 Upside"},
		{labelUpsidePT3, "PT3 Upside"},
		{labelDownsidePT1, "PT1 Downside"},
		{labelDownsidePT2, "PT2 Downside"},
		{labelDownsidePT3, "PT3 Downside"},
	}

	now := time.Now().UTC()
	a := Alert{
		ID:           fmt.Sprintf("%s-%d", symbol, now.UnixNano()),
		Symbol:       symbol,
		CreatedAt:    now,
		CreatedPrice: current,
		Destination:  dest,
		Levels:       make([]Level, 0, len(targets)),
	}

	for _, t := range targets {
		target, err := parseFloatField(lines, t.field)
		if err != nil {
			return Alert{}, err
		}
		a.Levels = append(a.Levels, Level{
			Label:     t.label,
			Target:    target,
			Direction: directionFor(target, current),
		})
	}

	return a, nil
}

// fieldLines trims every line and discards the blank ones, so a label and its
// value end up adjacent no matter how the block was spaced.
func fieldLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func parseField(lines []string, label string) (string, error) {
	for i := 0; i+1 < len(lines); i++ {
		if strings.EqualFold(lines[i], label) {
			return lines[i+1], nil
		}
	}
	return "", &ParseError{Label: label}
}

func parseFloatField(lines []string, label string) (float64, error) {
	raw, err := parseField(lines, label)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ParseError{Label: label, Cause: err}
	}
	return v, nil
}
