package config

import (
	"fmt"
	"strconv"
	"strings"

	"roafetch/pkg/model"
)

const (
	// DefaultCollectors is used when no collector is configured
	DefaultCollectors = "FU-Berlin:CC06(RTR)"
	// MaxCollectors bounds the number of project/collector pairs
	MaxCollectors = 32
	// MaxIntervals bounds the number of validation intervals
	MaxIntervals = 32
)

const errInput = model.ErrInvalidInput

// ParseCollectors parses "P1:C1;P2:C2". A collector field may list several
// collectors of the same project separated by commas ("P:C1,C2").
func ParseCollectors(s string) ([]model.Collector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultCollectors
	}

	tokens := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ';' })
	if len(tokens)%2 != 0 {
		return nil, fmt.Errorf("%w: number of collectors and projects doesn't match in %q", errInput, s)
	}

	var collectors []model.Collector
	for i := 0; i < len(tokens); i += 2 {
		project := strings.TrimSpace(tokens[i])
		if project == "" || strings.Contains(project, ",") {
			return nil, fmt.Errorf("%w: invalid project %q", errInput, tokens[i])
		}
		for _, name := range strings.Split(tokens[i+1], ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("%w: empty collector for project %s", errInput, project)
			}
			collectors = append(collectors, model.Collector{Project: project, Name: name})
		}
	}
	if len(collectors) > MaxCollectors {
		return nil, fmt.Errorf("%w: %d collectors exceed the limit of %d", errInput, len(collectors), MaxCollectors)
	}
	return collectors, nil
}

// FormatCollectors renders collectors in the P:C;P:C notation
func FormatCollectors(collectors []model.Collector) string {
	parts := make([]string, len(collectors))
	for i, c := range collectors {
		parts[i] = c.Project + ":" + c.Name
	}
	return strings.Join(parts, ";")
}

// Split returns the project and collector names in slot order
func Split(collectors []model.Collector) (projects, names []string) {
	projects = make([]string, len(collectors))
	names = make([]string, len(collectors))
	for i, c := range collectors {
		projects[i], names[i] = c.Project, c.Name
	}
	return projects, names
}

// ParseIntervals parses "t0-t1,t2-t3". An empty string yields no intervals.
// An end of 0 leaves the interval open.
func ParseIntervals(s string) ([]model.Interval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	tokens := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '-' })
	if len(tokens)%2 != 0 {
		return nil, fmt.Errorf("%w: interval %q needs start and end", errInput, s)
	}
	if len(tokens)/2 > MaxIntervals {
		return nil, fmt.Errorf("%w: %d intervals exceed the limit of %d", errInput, len(tokens)/2, MaxIntervals)
	}

	intervals := make([]model.Interval, 0, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		start, err := parseTimestamp(tokens[i])
		if err != nil {
			return nil, err
		}
		end, err := parseTimestamp(tokens[i+1])
		if err != nil {
			return nil, err
		}
		if end != 0 && end < start {
			return nil, fmt.Errorf("%w: interval %d-%d ends before it starts", errInput, start, end)
		}
		intervals = append(intervals, model.Interval{Start: start, End: end})
	}
	return intervals, nil
}

func parseTimestamp(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid timestamp %q", errInput, s)
	}
	return uint32(v), nil
}

// ParseMode maps historical (or 1) and live (or 0) to a mode
func ParseMode(s string) (model.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "historical", "history", "1":
		return model.ModeHistorical, nil
	case "live", "0":
		return model.ModeLive, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", errInput, s)
	}
}
