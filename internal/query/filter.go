package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/doorman/models"
)

// Filter is one typed predicate of a query. The set of implementations is
// closed; see NodeFilter, QueryFilter, TimestampFilter, ActionFilter and
// StatusFilter.
type Filter interface {
	Kind() FilterKind
	filter()
}

// NodeFilter restricts records to those owned by a node.
type NodeFilter struct{ NodeID int64 }

// QueryFilter restricts by query identity. For result logs this is the
// identity of the result log row itself; for distributed results it is the
// distributed query.
type QueryFilter struct{ ID int64 }

// TimestampFilter restricts to a half-open time range [From, To).
type TimestampFilter struct{ From, To time.Time }

// ActionFilter restricts result logs by action tag.
type ActionFilter struct{ Action string }

// StatusFilter restricts distributed results by the status of their task.
type StatusFilter struct{ Status models.TaskStatus }

func (NodeFilter) Kind() FilterKind      { return FilterNode }
func (QueryFilter) Kind() FilterKind     { return FilterQuery }
func (TimestampFilter) Kind() FilterKind { return FilterTimestamp }
func (ActionFilter) Kind() FilterKind    { return FilterAction }
func (StatusFilter) Kind() FilterKind    { return FilterStatus }

func (NodeFilter) filter()      {}
func (QueryFilter) filter()     {}
func (TimestampFilter) filter() {}
func (ActionFilter) filter()    {}
func (StatusFilter) filter()    {}

// ParseFilter builds a filter from "kind=value" text, e.g. "node=3",
// "status=complete" or "timestamp=2024-01-01T00:00:00Z..2024-01-02T00:00:00Z".
func ParseFilter(s string) (Filter, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return nil, fmt.Errorf("filter %q: expected kind=value", s)
	}
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "node":
		id, err := parseID(value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s, err)
		}
		return NodeFilter{NodeID: id}, nil
	case "query":
		id, err := parseID(value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s, err)
		}
		return QueryFilter{ID: id}, nil
	case "timestamp":
		from, to, err := parseRange(value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s, err)
		}
		return TimestampFilter{From: from, To: to}, nil
	case "action":
		if value == "" {
			return nil, fmt.Errorf("filter %q: action required", s)
		}
		return ActionFilter{Action: value}, nil
	case "status":
		st, err := models.ParseTaskStatus(value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s, err)
		}
		return StatusFilter{Status: st}, nil
	}
	return nil, fmt.Errorf("filter %q: unknown kind %q", s, name)
}

// ParseFilters parses each entry with ParseFilter, keeping order.
func ParseFilters(in []string) ([]Filter, error) {
	out := make([]Filter, 0, len(in))
	for _, s := range in {
		f, err := ParseFilter(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func parseID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", v)
	}
	return id, nil
}

func parseRange(v string) (time.Time, time.Time, error) {
	lo, hi, _ := strings.Cut(v, "..")
	var from, to time.Time
	var err error
	if lo = strings.TrimSpace(lo); lo != "" {
		if from, err = time.Parse(time.RFC3339, lo); err != nil {
			return from, to, fmt.Errorf("invalid time %q", lo)
		}
	}
	if hi = strings.TrimSpace(hi); hi != "" {
		if to, err = time.Parse(time.RFC3339, hi); err != nil {
			return from, to, fmt.Errorf("invalid time %q", hi)
		}
	}
	if from.IsZero() && to.IsZero() {
		return from, to, fmt.Errorf("empty time range")
	}
	return from, to, nil
}
