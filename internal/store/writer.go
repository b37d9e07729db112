package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/doorman/models"
)

// Writer creates the records the query engine reads. Enrollment, check-in and
// query submission live outside this repository; Writer exists for seeding
// and tests.
type Writer interface {
	CreateNode(ctx context.Context, n models.Node) (models.Node, error)
	InsertResultLog(ctx context.Context, r models.ResultLog) (models.ResultLog, error)
	CreateDistributedQuery(ctx context.Context, q models.DistributedQuery) (models.DistributedQuery, error)
	CreateTask(ctx context.Context, t models.DistributedQueryTask) (models.DistributedQueryTask, error)
	InsertDistributedResult(ctx context.Context, r models.DistributedQueryResult) (models.DistributedQueryResult, error)
}

// CreateNode enrolls a node. A node key is generated when empty.
func (s *Store) CreateNode(ctx context.Context, n models.Node) (models.Node, error) {
	if strings.TrimSpace(n.HostIdentifier) == "" {
		return models.Node{}, fmt.Errorf("host_identifier required")
	}
	if n.NodeKey == "" {
		n.NodeKey = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.EnrolledOn.IsZero() {
		n.EnrolledOn = now
	}
	if n.LastCheckin.IsZero() {
		n.LastCheckin = now
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO node (node_key, host_identifier, enrolled_on, last_checkin, is_active)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, n.NodeKey, n.HostIdentifier, n.EnrolledOn, n.LastCheckin, n.IsActive).Scan(&n.ID)
	if err != nil {
		return models.Node{}, err
	}
	return n, nil
}

// InsertResultLog stores one result log row.
func (s *Store) InsertResultLog(ctx context.Context, r models.ResultLog) (models.ResultLog, error) {
	if strings.TrimSpace(r.Name) == "" {
		return models.ResultLog{}, fmt.Errorf("result log name required")
	}
	cols, err := encodeColumns(r.Columns)
	if err != nil {
		return models.ResultLog{}, err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO result_log (node_id, name, action, columns, timestamp)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, r.NodeID, r.Name, r.Action, cols, r.Timestamp).Scan(&r.ID)
	if err != nil {
		return models.ResultLog{}, err
	}
	return r, nil
}

// CreateDistributedQuery stores a distributed query definition.
func (s *Store) CreateDistributedQuery(ctx context.Context, q models.DistributedQuery) (models.DistributedQuery, error) {
	if strings.TrimSpace(q.SQL) == "" {
		return models.DistributedQuery{}, fmt.Errorf("sql required")
	}
	if q.GUID == "" {
		q.GUID = uuid.NewString()
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	var notBefore interface{}
	if q.NotBefore != nil {
		notBefore = q.NotBefore.UTC()
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO distributed_query (guid, sql, timestamp, not_before)
VALUES ($1,$2,$3,$4)
RETURNING id
`, q.GUID, q.SQL, q.Timestamp, notBefore).Scan(&q.ID)
	if err != nil {
		return models.DistributedQuery{}, err
	}
	return q, nil
}

// CreateTask assigns a distributed query to a node.
func (s *Store) CreateTask(ctx context.Context, t models.DistributedQueryTask) (models.DistributedQueryTask, error) {
	if !t.Status.Valid() {
		return models.DistributedQueryTask{}, fmt.Errorf("invalid task status %d", int(t.Status))
	}
	if t.GUID == "" {
		t.GUID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO distributed_query_task (guid, node_id, distributed_query_id, status, timestamp)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, t.GUID, t.NodeID, t.DistributedQueryID, int64(t.Status), t.Timestamp).Scan(&t.ID)
	if err != nil {
		return models.DistributedQueryTask{}, err
	}
	return t, nil
}

// InsertDistributedResult stores a result row for a task. The parent
// distributed query always comes from the task; a conflicting
// DistributedQueryID is rejected.
func (s *Store) InsertDistributedResult(ctx context.Context, r models.DistributedQueryResult) (models.DistributedQueryResult, error) {
	cols, err := encodeColumns(r.Columns)
	if err != nil {
		return models.DistributedQueryResult{}, err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	var dqID sql.NullInt64
	if r.DistributedQueryID != 0 {
		dqID = sql.NullInt64{Int64: r.DistributedQueryID, Valid: true}
	}
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO distributed_query_result (distributed_query_task_id, distributed_query_id, columns, timestamp)
SELECT t.id, t.distributed_query_id, $3, $4
FROM distributed_query_task t
WHERE t.id=$1 AND ($2::BIGINT IS NULL OR t.distributed_query_id=$2)
RETURNING id, distributed_query_id
`, r.DistributedQueryTaskID, dqID, cols, r.Timestamp).Scan(&r.ID, &r.DistributedQueryID)
	if errors.Is(err, sql.ErrNoRows) {
		if dqID.Valid {
			return models.DistributedQueryResult{}, fmt.Errorf("result references unknown task %d or task outside distributed query %d", r.DistributedQueryTaskID, r.DistributedQueryID)
		}
		return models.DistributedQueryResult{}, fmt.Errorf("result references unknown task %d", r.DistributedQueryTaskID)
	}
	if err != nil {
		return models.DistributedQueryResult{}, err
	}
	return r, nil
}
