package query

import (
	"fmt"
	"strings"
)

// QueryKind selects which record family a query runs against.
type QueryKind int

const (
	// KindResult targets result logs from scheduled queries.
	KindResult QueryKind = iota + 1
	// KindDistributed targets results of on-demand distributed queries.
	KindDistributed
)

func (k QueryKind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindDistributed:
		return "distributed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is a member of the closed set.
func (k QueryKind) Valid() bool { return k == KindResult || k == KindDistributed }

// ParseQueryKind maps the admin URL segment onto a QueryKind.
func ParseQueryKind(v string) (QueryKind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "result", "results":
		return KindResult, nil
	case "distributed":
		return KindDistributed, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedQueryKind, v)
}

func (k QueryKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// FilterKind tags a filter predicate.
type FilterKind int

const (
	FilterNode FilterKind = iota + 1
	FilterQuery
	FilterTimestamp
	// FilterAction applies to result logs only.
	FilterAction
	// FilterStatus applies to distributed queries only.
	FilterStatus
)

func (k FilterKind) String() string {
	switch k {
	case FilterNode:
		return "node"
	case FilterQuery:
		return "query"
	case FilterTimestamp:
		return "timestamp"
	case FilterAction:
		return "action"
	case FilterStatus:
		return "status"
	default:
		return fmt.Sprintf("filter(%d)", int(k))
	}
}

// Allows reports whether filters of kind f may be applied to queries of kind k.
func (k QueryKind) Allows(f FilterKind) bool {
	switch f {
	case FilterNode, FilterQuery, FilterTimestamp:
		return k.Valid()
	case FilterAction:
		return k == KindResult
	case FilterStatus:
		return k == KindDistributed
	}
	return false
}
