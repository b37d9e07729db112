// Package export walks engine results page by page and forwards them to log sinks.
package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/doorman/internal/logsink"
	"github.com/mohammad-safakhou/doorman/internal/query"
	"github.com/mohammad-safakhou/doorman/models"
	"golang.org/x/sync/errgroup"
)

// Metrics is satisfied by *telemetry.Telemetry.
type Metrics interface {
	ObserveBatch(sink string, docs int, err error)
	ObserveRun(err error)
}

// Job describes which records an export run forwards.
type Job struct {
	Kind    query.QueryKind
	Filters []query.Filter
	Order   query.Order
}

// Summary reports what one run forwarded.
type Summary struct {
	RunID     string `json:"run_id"`
	Pages     int    `json:"pages"`
	Documents int    `json:"documents"`
	Total     int    `json:"total"`
}

type Exporter struct {
	Engine    *query.Engine
	Sinks     []logsink.Sink
	BatchSize int
	Metrics   Metrics
	Logger    *log.Logger
	// Now stamps the created field; defaults to time.Now.
	Now func() time.Time
}

// Run forwards every record matching job. Each page is written to all sinks
// concurrently; the run stops at the first page any sink rejects.
func (e *Exporter) Run(ctx context.Context, job Job) (sum Summary, err error) {
	if e.Metrics != nil {
		defer func() { e.Metrics.ObserveRun(err) }()
	}
	if len(e.Sinks) == 0 {
		return Summary{}, errors.New("export: no sinks configured")
	}
	perPage := e.BatchSize
	if perPage <= 0 {
		perPage = 100
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	sum.RunID = uuid.NewString()
	hosts := newHostCache()
	for page := 1; ; page++ {
		p, err := e.Engine.Execute(ctx, query.Request{
			Kind:    job.Kind,
			Filters: job.Filters,
			Page:    page,
			PerPage: perPage,
			Order:   job.Order,
		})
		if err != nil {
			return sum, err
		}
		sum.Total = p.Total
		if len(p.Items) == 0 {
			break
		}
		docs, err := e.documents(ctx, p.Items, hosts, now().UTC())
		if err != nil {
			return sum, err
		}
		batch := logsink.Batch{ID: fmt.Sprintf("%s-%d", sum.RunID, page), Documents: docs}
		if err := e.forward(ctx, batch); err != nil {
			return sum, err
		}
		sum.Pages++
		sum.Documents += len(docs)
		if !p.HasNext() {
			break
		}
	}
	e.logf("export %s: %d documents in %d pages", sum.RunID, sum.Documents, sum.Pages)
	return sum, nil
}

func (e *Exporter) forward(ctx context.Context, b logsink.Batch) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range e.Sinks {
		s := s
		g.Go(func() error {
			err := s.Write(gctx, b)
			if e.Metrics != nil {
				e.Metrics.ObserveBatch(s.Name(), len(b.Documents), err)
			}
			if err != nil {
				return fmt.Errorf("sink %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// TaskLookup lets the exporter attach the owning node to distributed results.
// Both record stores implement it; without it distributed documents carry an
// empty host identifier.
type TaskLookup interface {
	Task(ctx context.Context, id int64) (models.DistributedQueryTask, error)
}

// hostCache memoises host identifiers for one run, keyed by node and by task.
type hostCache struct {
	nodes map[int64]string
	tasks map[int64]string
}

func newHostCache() *hostCache {
	return &hostCache{nodes: map[int64]string{}, tasks: map[int64]string{}}
}

// nodeHost resolves a node's host identifier. Nodes removed since the record
// was written resolve to an empty identifier.
func (e *Exporter) nodeHost(ctx context.Context, hc *hostCache, nodeID int64) (string, error) {
	if host, ok := hc.nodes[nodeID]; ok {
		return host, nil
	}
	var host string
	n, err := e.Engine.Store.Node(ctx, nodeID)
	switch {
	case err == nil:
		host = n.HostIdentifier
	case errors.Is(err, query.ErrRecordNotFound):
	default:
		return "", &query.StoreError{Op: "node", Err: err}
	}
	hc.nodes[nodeID] = host
	return host, nil
}

func (e *Exporter) taskHost(ctx context.Context, hc *hostCache, taskID int64) (string, error) {
	if host, ok := hc.tasks[taskID]; ok {
		return host, nil
	}
	lookup, ok := e.Engine.Store.(TaskLookup)
	if !ok {
		return "", nil
	}
	var host string
	t, err := lookup.Task(ctx, taskID)
	switch {
	case err == nil:
		if host, err = e.nodeHost(ctx, hc, t.NodeID); err != nil {
			return "", err
		}
	case errors.Is(err, query.ErrRecordNotFound):
	default:
		return "", &query.StoreError{Op: "task", Err: err}
	}
	hc.tasks[taskID] = host
	return host, nil
}

// documents converts a page of records, resolving host identifiers through
// the engine's store.
func (e *Exporter) documents(ctx context.Context, items []models.Record, hc *hostCache, created time.Time) ([]logsink.Document, error) {
	out := make([]logsink.Document, 0, len(items))
	for _, item := range items {
		switch r := item.(type) {
		case models.ResultLog:
			host, err := e.nodeHost(ctx, hc, r.NodeID)
			if err != nil {
				return nil, err
			}
			out = append(out, logsink.FromResultLog(r, host, created))
		case models.DistributedQueryResult:
			host, err := e.taskHost(ctx, hc, r.DistributedQueryTaskID)
			if err != nil {
				return nil, err
			}
			out = append(out, logsink.FromDistributedResult(r, host, created))
		default:
			return nil, fmt.Errorf("export: unexpected record %T", item)
		}
	}
	return out, nil
}

func (e *Exporter) logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}
