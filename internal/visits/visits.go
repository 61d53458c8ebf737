// Package visits reads the visit history kept by Chromium in its "History"
// SQLite database (tables visits and urls).
package visits

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Fields lists the selectable columns, in result order.
var Fields = []string{
	"visits.id", "visits.url", "visit_time", "from_visit",
	"urls.url", "title", "visit_count", "last_visit_time", "hidden",
}

// DefaultOrderBy is used when no ordering is given.
const DefaultOrderBy = "last_visit_time desc"

var (
	// ErrOrderSpec matches every *OrderError.
	ErrOrderSpec = errors.New("invalid order-by")
	// ErrFilterSpec is returned for a filter on an unknown field or with an unknown operator.
	ErrFilterSpec = errors.New("invalid filter")
	// ErrUnreadable is returned by Open when a history file cannot be read.
	ErrUnreadable = errors.New("cannot open history file")
	// ErrDatabase wraps failures of the underlying database.
	ErrDatabase = errors.New("history database error")
)

// Visit is one row of visits joined with its url.
// Times are microseconds since 1601-01-01 UTC.
type Visit struct {
	ID            int64  `json:"visit_id"`
	URLID         int64  `json:"url_id"`
	VisitTime     int64  `json:"visit_time"`
	FromVisit     int64  `json:"from_visit"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	VisitCount    int64  `json:"visit_count"`
	LastVisitTime int64  `json:"last_visit_time"`
	Hidden        bool   `json:"hidden"`
}

// Op is a comparison operator usable in a Filter.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Filter restricts rows to Field Op Value. Value is always bound as a parameter.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func (f Filter) validate() error {
	if !isField(f.Field) {
		return fmt.Errorf("%w: unknown field %q", ErrFilterSpec, f.Field)
	}
	if !f.Op.valid() {
		return fmt.Errorf("%w: unknown operator %q", ErrFilterSpec, f.Op)
	}
	return nil
}

// Order sorts by one field.
type Order struct {
	Field string
	Desc  bool
}

func (o Order) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field
}

// Query selects visits. Filters are joined with AND.
type Query struct {
	Filters []Filter
	OrderBy []Order
}

// OrderError describes an unusable ordering.
type OrderError struct {
	Msg string
}

func (e *OrderError) Error() string { return e.Msg }

func (e *OrderError) Is(target error) bool { return target == ErrOrderSpec }

// ParseOrderBy parses a comma separated list of orderings, each "field" or "field desc".
func ParseOrderBy(s string) ([]Order, error) {
	parts := strings.Split(s, ",")
	out := make([]Order, 0, len(parts))
	for _, p := range parts {
		o, err := ParseOrder(p)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ParseOrder parses a single "field" or "field desc".
func ParseOrder(s string) (Order, error) {
	words := strings.Fields(s)
	switch len(words) {
	case 0:
		return Order{}, &OrderError{Msg: "empty sort order field"}
	case 1, 2:
	default:
		return Order{}, &OrderError{Msg: "need commas between order sort fields"}
	}
	o := Order{Field: strings.ToLower(words[0])}
	if len(words) == 2 {
		if !strings.EqualFold(words[1], "desc") {
			return Order{}, &OrderError{Msg: "invalid sort order modifier " + words[1]}
		}
		o.Desc = true
	}
	if !isField(o.Field) {
		return Order{}, &OrderError{Msg: "unknown sort order field " + words[0]}
	}
	return o, nil
}

func isField(name string) bool {
	return slices.Contains(Fields, strings.ToLower(name))
}

var urlSchemeHost = regexp.MustCompile(`^(\S+?://[^/]*/)`)

// URLBase returns the scheme, host and port of url followed by "/".
// A url without a path has "/" appended; anything else is returned unchanged.
func URLBase(url string) string {
	if m := urlSchemeHost.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	if strings.Contains(url, "://") && !strings.ContainsAny(url, " \t") {
		return url + "/"
	}
	return url
}
