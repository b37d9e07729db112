package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mohammad-safakhou/doorman/internal/query"
	"github.com/mohammad-safakhou/doorman/models"
)

// Memory is an in-process record store. It resolves distributed results in
// two phases (tasks first, then results by task membership) and is used by
// tests and local tooling.
type Memory struct {
	mu sync.RWMutex
	// One sequence per table, like BIGSERIAL columns.
	nodeSeq, logSeq, querySeq, taskSeq, resultSeq int64

	nodes   map[int64]models.Node
	queries map[int64]models.DistributedQuery
	logs    []models.ResultLog
	tasks   []models.DistributedQueryTask
	results []models.DistributedQueryResult
}

var (
	_ query.RecordStore = (*Memory)(nil)
	_ Writer            = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		nodes:   make(map[int64]models.Node),
		queries: make(map[int64]models.DistributedQuery),
	}
}

func nextID(seq *int64, id int64) int64 {
	if id > *seq {
		*seq = id
		return id
	}
	if id != 0 {
		return id
	}
	*seq++
	return *seq
}

func (m *Memory) CreateNode(_ context.Context, n models.Node) (models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = nextID(&m.nodeSeq, n.ID)
	m.nodes[n.ID] = n
	return n, nil
}

func (m *Memory) InsertResultLog(_ context.Context, r models.ResultLog) (models.ResultLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[r.NodeID]; !ok {
		return models.ResultLog{}, fmt.Errorf("result log references unknown node %d", r.NodeID)
	}
	r.ID = nextID(&m.logSeq, r.ID)
	m.logs = append(m.logs, r)
	return r, nil
}

func (m *Memory) CreateDistributedQuery(_ context.Context, q models.DistributedQuery) (models.DistributedQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = nextID(&m.querySeq, q.ID)
	m.queries[q.ID] = q
	return q, nil
}

func (m *Memory) CreateTask(_ context.Context, t models.DistributedQueryTask) (models.DistributedQueryTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[t.NodeID]; !ok {
		return models.DistributedQueryTask{}, fmt.Errorf("task references unknown node %d", t.NodeID)
	}
	if _, ok := m.queries[t.DistributedQueryID]; !ok {
		return models.DistributedQueryTask{}, fmt.Errorf("task references unknown distributed query %d", t.DistributedQueryID)
	}
	t.ID = nextID(&m.taskSeq, t.ID)
	m.tasks = append(m.tasks, t)
	return t, nil
}

func (m *Memory) InsertDistributedResult(_ context.Context, r models.DistributedQueryResult) (models.DistributedQueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, t := range m.tasks {
		if t.ID == r.DistributedQueryTaskID {
			found = true
			if r.DistributedQueryID != 0 && r.DistributedQueryID != t.DistributedQueryID {
				return models.DistributedQueryResult{}, fmt.Errorf("result for task %d cannot belong to distributed query %d", t.ID, r.DistributedQueryID)
			}
			r.DistributedQueryID = t.DistributedQueryID
			break
		}
	}
	if !found {
		return models.DistributedQueryResult{}, fmt.Errorf("result references unknown task %d", r.DistributedQueryTaskID)
	}
	r.ID = nextID(&m.resultSeq, r.ID)
	m.results = append(m.results, r)
	return r, nil
}

func (m *Memory) Node(_ context.Context, id int64) (models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return models.Node{}, query.ErrRecordNotFound
	}
	return n, nil
}

func (m *Memory) DistributedQuery(_ context.Context, id int64) (models.DistributedQuery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queries[id]
	if !ok {
		return models.DistributedQuery{}, query.ErrRecordNotFound
	}
	return q, nil
}

func (m *Memory) Task(_ context.Context, id int64) (models.DistributedQueryTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return models.DistributedQueryTask{}, query.ErrRecordNotFound
}

func (m *Memory) ResultLogs(_ context.Context, where query.Predicate, win query.Window) ([]models.ResultLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []models.ResultLog
	for _, r := range m.logs {
		ok, err := matches(where, func(f query.Field) (interface{}, bool) {
			switch f {
			case query.FieldID:
				return r.ID, true
			case query.FieldNodeID:
				return r.NodeID, true
			case query.FieldAction:
				return r.Action, true
			}
			return nil, false
		})
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, r)
		}
	}
	page, total := window(matched, win)
	return page, total, nil
}

func (m *Memory) TaskIDs(_ context.Context, where query.Predicate) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for _, t := range m.tasks {
		ok, err := matches(where, func(f query.Field) (interface{}, bool) {
			switch f {
			case query.FieldID:
				return t.ID, true
			case query.FieldNodeID:
				return t.NodeID, true
			case query.FieldDistributedQueryID:
				return t.DistributedQueryID, true
			case query.FieldStatus:
				return t.Status, true
			}
			return nil, false
		})
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, t.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) DistributedResults(_ context.Context, where query.Predicate, win query.Window) ([]models.DistributedQueryResult, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []models.DistributedQueryResult
	for _, r := range m.results {
		ok, err := matches(where, func(f query.Field) (interface{}, bool) {
			switch f {
			case query.FieldID:
				return r.ID, true
			case query.FieldTaskID:
				return r.DistributedQueryTaskID, true
			case query.FieldDistributedQueryID:
				return r.DistributedQueryID, true
			}
			return nil, false
		})
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, r)
		}
	}
	page, total := window(matched, win)
	return page, total, nil
}

func matches(where query.Predicate, get func(query.Field) (interface{}, bool)) (bool, error) {
	for _, c := range where {
		v, ok := get(c.Field)
		if !ok {
			return false, fmt.Errorf("unsupported field %q", c.Field)
		}
		if !slices.Contains(c.Values, v) {
			return false, nil
		}
	}
	return true, nil
}

func window[T models.Record](rows []T, win query.Window) ([]T, int) {
	slices.SortStableFunc(rows, func(a, b T) int {
		var c int
		if win.Order.Field == query.FieldTimestamp {
			c = a.RecordTime().Compare(b.RecordTime())
			if win.Order.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
			return cmp.Compare(a.RecordID(), b.RecordID())
		}
		c = cmp.Compare(a.RecordID(), b.RecordID())
		if win.Order.Desc {
			c = -c
		}
		return c
	})
	total := len(rows)
	if win.Offset >= total {
		return []T{}, total
	}
	end := total
	if win.Limit > 0 && win.Limit < end-win.Offset {
		end = win.Offset + win.Limit
	}
	return slices.Clone(rows[win.Offset:end]), total
}
