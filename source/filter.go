package source

import (
	"fmt"
	"strings"
)

// Filter is a parsed attribute filter: every clause must match.
type Filter []FilterClause

// FilterClause compares one attribute to a string value.
type FilterClause struct {
	Key   string
	Value string
}

// ParseFilter parses "key=value[,key=value]". The empty string is the
// filter that matches everything.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var f Filter
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: clause %q", ErrInvalidFilter, part)
		}
		f = append(f, FilterClause{Key: k, Value: strings.TrimSpace(v)})
	}
	return f, nil
}

// Match reports whether attrs satisfies every clause. Values are compared
// by their fmt.Sprint form, so 3 matches "3" and true matches "true".
func (f Filter) Match(attrs map[string]any) bool {
	for _, c := range f {
		v, ok := attrs[c.Key]
		if !ok || fmt.Sprint(v) != c.Value {
			return false
		}
	}
	return true
}

// String formats the filter back into its query form.
func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, c := range f {
		parts[i] = c.Key + "=" + c.Value
	}
	return strings.Join(parts, ",")
}
