package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Option names every provider understands.
const (
	OptionBadge    = "badge"
	OptionSound    = "sound"
	OptionExpiry   = "expiry"
	OptionPriority = "priority"
	OptionTitle    = "title"
)

// Priority is the delivery urgency requested from the gateway.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// OptionSetter applies one option value to a provider's native message.
type OptionSetter[T any] func(target T, value any) error

// OptionTable maps normalized option names to setters. It replaces reflective
// "call the setter named after the key" dispatch: a name missing from the
// table is a warning, not a failure.
type OptionTable[T any] map[string]OptionSetter[T]

// Apply runs the matching setter for each option, in name order, and returns a
// warning for every option that was unknown or carried an unusable value.
func (t OptionTable[T]) Apply(target T, options map[string]any) []OptionWarning {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	slices.Sort(names)

	var warnings []OptionWarning
	for _, name := range names {
		setter, ok := t[NormalizeOption(name)]
		if !ok {
			warnings = append(warnings, OptionWarning{Option: name, Reason: "not supported by provider"})
			continue
		}
		if err := setter(target, options[name]); err != nil {
			warnings = append(warnings, OptionWarning{Option: name, Reason: err.Error()})
		}
	}
	return warnings
}

// Names lists the options the table recognizes.
func (t OptionTable[T]) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AsInt accepts Go integers, integral floats (as decoded from JSON) and numeric strings.
func AsInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", v.String())
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", v)
		}
		return i, nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", value)
}

func floatToInt(f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("expected an integer, got %v", f)
	}
	return int(f), nil
}

// AsString accepts strings and scalar values with an obvious text form.
func AsString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, int, int32, int64, float64, json.Number:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("expected a string, got %T", value)
}

// AsBool accepts booleans, "true"/"false"-style strings and 0/1.
func AsBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("expected a boolean, got %q", v)
		}
		return b, nil
	}
	i, err := AsInt(value)
	if err != nil || (i != 0 && i != 1) {
		return false, fmt.Errorf("expected a boolean, got %v", value)
	}
	return i == 1, nil
}

// AsSeconds reads a non-negative number of seconds.
func AsSeconds(value any) (time.Duration, error) {
	secs, err := AsInt(value)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		return 0, fmt.Errorf("expected non-negative seconds, got %d", secs)
	}
	return time.Duration(secs) * time.Second, nil
}

// AsPriority reads "high" or "normal". The APNs numeric values 10 and 5 are
// accepted as well.
func AsPriority(value any) (Priority, error) {
	if n, err := AsInt(value); err == nil {
		switch n {
		case 10:
			return PriorityHigh, nil
		case 5:
			return PriorityNormal, nil
		}
		return "", fmt.Errorf("unknown priority %d", n)
	}
	s, err := AsString(value)
	if err != nil {
		return "", err
	}
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityNormal:
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}
