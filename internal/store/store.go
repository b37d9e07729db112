package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/doorman/internal/query"
	"github.com/mohammad-safakhou/doorman/models"
)

// Store is the Postgres-backed record store.
type Store struct {
	DB *sql.DB
}

var (
	_ query.RecordStore = (*Store)(nil)
	_ query.TaskJoiner  = (*Store)(nil)
	_ Writer            = (*Store)(nil)
)

var (
	resultLogColumns = map[query.Field]string{
		query.FieldID:        "r.id",
		query.FieldNodeID:    "r.node_id",
		query.FieldAction:    "r.action",
		query.FieldTimestamp: "r.timestamp",
	}
	taskColumns = map[query.Field]string{
		query.FieldID:                 "t.id",
		query.FieldNodeID:             "t.node_id",
		query.FieldDistributedQueryID: "t.distributed_query_id",
		query.FieldStatus:             "t.status",
		query.FieldTimestamp:          "t.timestamp",
	}
	distributedResultColumns = map[query.Field]string{
		query.FieldID:                 "d.id",
		query.FieldTaskID:             "d.distributed_query_task_id",
		query.FieldDistributedQueryID: "d.distributed_query_id",
		query.FieldTimestamp:          "d.timestamp",
	}
)

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Node(ctx context.Context, id int64) (models.Node, error) {
	var n models.Node
	err := s.DB.QueryRowContext(ctx, `
SELECT id, node_key, host_identifier, enrolled_on, last_checkin, is_active
FROM node
WHERE id=$1
`, id).Scan(&n.ID, &n.NodeKey, &n.HostIdentifier, &n.EnrolledOn, &n.LastCheckin, &n.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Node{}, query.ErrRecordNotFound
	}
	return n, err
}

func (s *Store) DistributedQuery(ctx context.Context, id int64) (models.DistributedQuery, error) {
	var q models.DistributedQuery
	var notBefore sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
SELECT id, guid, sql, timestamp, not_before
FROM distributed_query
WHERE id=$1
`, id).Scan(&q.ID, &q.GUID, &q.SQL, &q.Timestamp, &notBefore)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DistributedQuery{}, query.ErrRecordNotFound
	}
	if err != nil {
		return models.DistributedQuery{}, err
	}
	if notBefore.Valid {
		ts := notBefore.Time
		q.NotBefore = &ts
	}
	return q, nil
}

// Task returns one distributed query task.
func (s *Store) Task(ctx context.Context, id int64) (models.DistributedQueryTask, error) {
	var t models.DistributedQueryTask
	var status int64
	err := s.DB.QueryRowContext(ctx, `
SELECT id, guid, node_id, distributed_query_id, status, timestamp
FROM distributed_query_task
WHERE id=$1
`, id).Scan(&t.ID, &t.GUID, &t.NodeID, &t.DistributedQueryID, &status, &t.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DistributedQueryTask{}, query.ErrRecordNotFound
	}
	if err != nil {
		return models.DistributedQueryTask{}, err
	}
	t.Status = models.TaskStatus(status)
	return t, nil
}

// ResultLogs returns one window of result logs matching where.
func (s *Store) ResultLogs(ctx context.Context, where query.Predicate, win query.Window) ([]models.ResultLog, int, error) {
	b := &sqlBuilder{}
	cond, err := b.where(where, resultLogColumns)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM result_log r WHERE %s`, cond), b.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	order, err := orderClause(win.Order, resultLogColumns)
	if err != nil {
		return nil, 0, err
	}
	q := fmt.Sprintf(`
SELECT r.id, r.node_id, r.name, r.action, r.columns, r.timestamp
FROM result_log r
WHERE %s
ORDER BY %s
LIMIT %s OFFSET %s
`, cond, order, b.arg(win.Limit), b.arg(win.Offset))
	rows, err := s.DB.QueryContext(ctx, q, b.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []models.ResultLog{}
	for rows.Next() {
		var rec models.ResultLog
		var cols []byte
		if err := rows.Scan(&rec.ID, &rec.NodeID, &rec.Name, &rec.Action, &cols, &rec.Timestamp); err != nil {
			return nil, 0, err
		}
		if rec.Columns, err = decodeColumns(cols); err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// TaskIDs returns the ids of the distributed query tasks matching where.
func (s *Store) TaskIDs(ctx context.Context, where query.Predicate) ([]int64, error) {
	b := &sqlBuilder{}
	cond, err := b.where(where, taskColumns)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT t.id FROM distributed_query_task t WHERE %s ORDER BY t.id`, cond), b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DistributedResults returns one window of distributed results matching where.
func (s *Store) DistributedResults(ctx context.Context, where query.Predicate, win query.Window) ([]models.DistributedQueryResult, int, error) {
	b := &sqlBuilder{}
	cond, err := b.where(where, distributedResultColumns)
	if err != nil {
		return nil, 0, err
	}
	return s.distributedResults(ctx, b, cond, win)
}

// DistributedResultsForTasks selects results whose task matches tasks using a
// single subquery instead of materialising task ids client-side.
func (s *Store) DistributedResultsForTasks(ctx context.Context, tasks query.Predicate, win query.Window) ([]models.DistributedQueryResult, int, error) {
	b := &sqlBuilder{}
	cond, err := b.where(tasks, taskColumns)
	if err != nil {
		return nil, 0, err
	}
	cond = fmt.Sprintf(`d.distributed_query_task_id IN (SELECT t.id FROM distributed_query_task t WHERE %s)`, cond)
	return s.distributedResults(ctx, b, cond, win)
}

func (s *Store) distributedResults(ctx context.Context, b *sqlBuilder, cond string, win query.Window) ([]models.DistributedQueryResult, int, error) {
	var total int
	if err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM distributed_query_result d WHERE %s`, cond), b.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	order, err := orderClause(win.Order, distributedResultColumns)
	if err != nil {
		return nil, 0, err
	}
	q := fmt.Sprintf(`
SELECT d.id, d.distributed_query_task_id, d.distributed_query_id, d.columns, d.timestamp
FROM distributed_query_result d
WHERE %s
ORDER BY %s
LIMIT %s OFFSET %s
`, cond, order, b.arg(win.Limit), b.arg(win.Offset))
	rows, err := s.DB.QueryContext(ctx, q, b.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []models.DistributedQueryResult{}
	for rows.Next() {
		var rec models.DistributedQueryResult
		var cols []byte
		if err := rows.Scan(&rec.ID, &rec.DistributedQueryTaskID, &rec.DistributedQueryID, &cols, &rec.Timestamp); err != nil {
			return nil, 0, err
		}
		if rec.Columns, err = decodeColumns(cols); err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// sqlBuilder accumulates positional arguments for a single statement.
type sqlBuilder struct {
	args []interface{}
}

func (b *sqlBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) where(p query.Predicate, columns map[query.Field]string) (string, error) {
	conditions := []string{"1=1"}
	for _, c := range p {
		col, ok := columns[c.Field]
		if !ok {
			return "", fmt.Errorf("unsupported field %q", c.Field)
		}
		switch len(c.Values) {
		case 0:
			conditions = append(conditions, "FALSE")
		case 1:
			conditions = append(conditions, fmt.Sprintf("%s = %s", col, b.arg(sqlValue(c.Values[0]))))
		default:
			arr, err := arrayValue(c.Values)
			if err != nil {
				return "", fmt.Errorf("field %q: %w", c.Field, err)
			}
			conditions = append(conditions, fmt.Sprintf("%s = ANY(%s)", col, b.arg(arr)))
		}
	}
	return strings.Join(conditions, " AND "), nil
}

func orderClause(o query.Order, columns map[query.Field]string) (string, error) {
	if o.Field == "" {
		o = query.DefaultOrder
	}
	col, ok := columns[o.Field]
	if !ok {
		return "", fmt.Errorf("%w: cannot order by %q", query.ErrInvalidOrder, o.Field)
	}
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	idCol := columns[query.FieldID]
	if o.Field == query.FieldID {
		return fmt.Sprintf("%s %s", col, dir), nil
	}
	return fmt.Sprintf("%s %s, %s ASC", col, dir, idCol), nil
}

func sqlValue(v interface{}) interface{} {
	if st, ok := v.(models.TaskStatus); ok {
		return int64(st)
	}
	return v
}

func arrayValue(values []interface{}) (interface{}, error) {
	switch values[0].(type) {
	case int64, models.TaskStatus:
		out := make([]int64, 0, len(values))
		for _, v := range values {
			switch n := v.(type) {
			case int64:
				out = append(out, n)
			case models.TaskStatus:
				out = append(out, int64(n))
			default:
				return nil, fmt.Errorf("mixed value types")
			}
		}
		return pq.Array(out), nil
	case string:
		out := make([]string, 0, len(values))
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("mixed value types")
			}
			out = append(out, str)
		}
		return pq.Array(out), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", values[0])
}

func decodeColumns(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var cols map[string]interface{}
	if err := json.Unmarshal(raw, &cols); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	return cols, nil
}

func encodeColumns(cols map[string]interface{}) ([]byte, error) {
	if cols == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(cols)
}
