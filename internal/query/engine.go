// Package query resolves typed filters against result logs and distributed
// query results and returns them one page at a time.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mohammad-safakhou/doorman/models"
)

// Request describes one engine invocation.
type Request struct {
	Kind    QueryKind
	Filters []Filter
	Page    int
	PerPage int
	// Order defaults to DefaultOrder when zero.
	Order Order
}

// Page is one page of a resolved record set.
type Page struct {
	Kind    QueryKind       `json:"kind"`
	Items   []models.Record `json:"items"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

// Pages returns the number of pages needed to hold Total records.
func (p Page) Pages() int {
	if p.PerPage <= 0 || p.Total <= 0 {
		return 0
	}
	n := p.Total / p.PerPage
	if p.Total%p.PerPage != 0 {
		n++
	}
	return n
}

func (p Page) HasNext() bool { return p.Page < p.Pages() }
func (p Page) HasPrev() bool { return p.Page > 1 }

// Observer is notified once per Execute call.
type Observer interface {
	ObserveQuery(kind QueryKind, filters int, err error, took time.Duration)
}

// Engine executes queries against a RecordStore. It holds no state between
// calls and is safe for concurrent use if its store is.
type Engine struct {
	Store    RecordStore
	Observer Observer
}

// Execute runs a query with the default ordering.
func Execute(ctx context.Context, store RecordStore, kind QueryKind, filters []Filter, page, perPage int) (Page, error) {
	e := &Engine{Store: store}
	return e.Execute(ctx, Request{Kind: kind, Filters: filters, Page: page, PerPage: perPage})
}

// Execute validates req, composes its filters and returns the requested page.
// Validation failures never reach the store.
func (e *Engine) Execute(ctx context.Context, req Request) (out Page, err error) {
	if e.Observer != nil {
		start := time.Now()
		defer func() { e.Observer.ObserveQuery(req.Kind, len(req.Filters), err, time.Since(start)) }()
	}

	if !req.Kind.Valid() {
		return Page{}, fmt.Errorf("%w: %s", ErrUnsupportedQueryKind, req.Kind)
	}
	if req.Page < 1 || req.PerPage < 1 {
		return Page{}, fmt.Errorf("%w: page=%d per_page=%d", ErrInvalidPagination, req.Page, req.PerPage)
	}
	// The offset must be representable; anything short of that is simply past the end.
	if req.Page-1 > math.MaxInt/req.PerPage {
		return Page{}, fmt.Errorf("%w: page %d overflows the offset", ErrInvalidPagination, req.Page)
	}
	order := req.Order
	if order == (Order{}) {
		order = DefaultOrder
	}
	if err := order.validate(); err != nil {
		return Page{}, err
	}
	if err := Validate(req.Kind, req.Filters); err != nil {
		return Page{}, err
	}

	win := Window{Offset: (req.Page - 1) * req.PerPage, Limit: req.PerPage, Order: order}
	out = Page{Kind: req.Kind, Page: req.Page, PerPage: req.PerPage, Items: []models.Record{}}

	switch req.Kind {
	case KindResult:
		rows, total, err := e.resultLogs(ctx, req.Filters, win)
		if err != nil {
			return Page{}, err
		}
		for _, r := range rows {
			out.Items = append(out.Items, r)
		}
		out.Total = total
	case KindDistributed:
		rows, total, err := e.distributedResults(ctx, req.Filters, win)
		if err != nil {
			return Page{}, err
		}
		for _, r := range rows {
			out.Items = append(out.Items, r)
		}
		out.Total = total
	}
	return out, nil
}

// Validate checks every filter against the validity table for kind and
// reports the first offender in sequence order.
func Validate(kind QueryKind, filters []Filter) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedQueryKind, kind)
	}
	for i, f := range filters {
		if f == nil {
			return &FilterKindError{QueryKind: kind, Index: i}
		}
		if !kind.Allows(f.Kind()) {
			return &FilterKindError{Kind: f.Kind(), QueryKind: kind, Index: i}
		}
		// Timestamp ranges parse but are not translated to predicates.
		if f.Kind() == FilterTimestamp {
			return fmt.Errorf("%w: %s filter", ErrNotImplemented, FilterTimestamp)
		}
	}
	return nil
}

func (e *Engine) resultLogs(ctx context.Context, filters []Filter, win Window) ([]models.ResultLog, int, error) {
	var where Predicate
	for i, f := range filters {
		switch f := f.(type) {
		case NodeFilter:
			node, err := e.lookupNode(ctx, f.NodeID)
			if err != nil {
				return nil, 0, err
			}
			where = where.And(Eq(FieldNodeID, node.ID))
		case QueryFilter:
			where = where.And(Eq(FieldID, f.ID))
		case ActionFilter:
			where = where.And(Eq(FieldAction, f.Action))
		default:
			return nil, 0, &FilterKindError{Kind: f.Kind(), QueryKind: KindResult, Index: i}
		}
	}
	rows, total, err := e.Store.ResultLogs(ctx, where, win)
	if err != nil {
		return nil, 0, storeErr("result logs", err)
	}
	return rows, total, nil
}

func (e *Engine) distributedResults(ctx context.Context, filters []Filter, win Window) ([]models.DistributedQueryResult, int, error) {
	var tasks Predicate
	for i, f := range filters {
		switch f := f.(type) {
		case NodeFilter:
			node, err := e.lookupNode(ctx, f.NodeID)
			if err != nil {
				return nil, 0, err
			}
			tasks = tasks.And(Eq(FieldNodeID, node.ID))
		case QueryFilter:
			dq, err := e.Store.DistributedQuery(ctx, f.ID)
			if errors.Is(err, ErrRecordNotFound) {
				return nil, 0, fmt.Errorf("%w: id=%d", ErrDistributedQueryNotFound, f.ID)
			}
			if err != nil {
				return nil, 0, storeErr("distributed query", err)
			}
			tasks = tasks.And(Eq(FieldDistributedQueryID, dq.ID))
		case StatusFilter:
			tasks = tasks.And(Eq(FieldStatus, f.Status))
		default:
			return nil, 0, &FilterKindError{Kind: f.Kind(), QueryKind: KindDistributed, Index: i}
		}
	}

	if j, ok := e.Store.(TaskJoiner); ok {
		rows, total, err := j.DistributedResultsForTasks(ctx, tasks, win)
		if err != nil {
			return nil, 0, storeErr("distributed results", err)
		}
		return rows, total, nil
	}

	ids, err := e.Store.TaskIDs(ctx, tasks)
	if err != nil {
		return nil, 0, storeErr("tasks", err)
	}
	if len(ids) == 0 {
		return nil, 0, nil
	}
	rows, total, err := e.Store.DistributedResults(ctx, Predicate{In(FieldTaskID, ids...)}, win)
	if err != nil {
		return nil, 0, storeErr("distributed results", err)
	}
	return rows, total, nil
}

func (e *Engine) lookupNode(ctx context.Context, id int64) (models.Node, error) {
	node, err := e.Store.Node(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return models.Node{}, fmt.Errorf("%w: id=%d", ErrNodeNotFound, id)
	}
	if err != nil {
		return models.Node{}, storeErr("node", err)
	}
	return node, nil
}
