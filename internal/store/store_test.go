package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammad-safakhou/doorman/internal/query"
	"github.com/mohammad-safakhou/doorman/models"
)

func TestResultLogsFilteredWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM result_log r WHERE 1=1 AND r.node_id = $1 AND r.action = $2`)).
		WithArgs(int64(3), "added").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))

	mock.ExpectQuery(`SELECT r.id, r.node_id, r.name, r.action, r.columns, r.timestamp\s+FROM result_log r\s+WHERE 1=1 AND r.node_id = \$1 AND r.action = \$2\s+ORDER BY r.id ASC\s+LIMIT \$3 OFFSET \$4`).
		WithArgs(int64(3), "added", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "node_id", "name", "action", "columns", "timestamp"}).
			AddRow(int64(31), int64(3), "processes", "added", []byte(`{"pid":"1"}`), now))

	where := query.Predicate{query.Eq(query.FieldNodeID, int64(3)), query.Eq(query.FieldAction, "added")}
	rows, total, err := st.ResultLogs(context.Background(), where, query.Window{Offset: 20, Limit: 10, Order: query.DefaultOrder})
	if err != nil {
		t.Fatalf("ResultLogs: %v", err)
	}
	if total != 21 {
		t.Fatalf("expected total 21, got %d", total)
	}
	if len(rows) != 1 || rows[0].ID != 31 || rows[0].Columns["pid"] != "1" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResultLogsOrderByTimestampDesc(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM result_log r WHERE 1=1`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`ORDER BY r.timestamp DESC, r.id ASC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(5, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "node_id", "name", "action", "columns", "timestamp"}))

	rows, total, err := st.ResultLogs(context.Background(), nil, query.Window{Limit: 5, Order: query.Order{Field: query.FieldTimestamp, Desc: true}})
	if err != nil {
		t.Fatalf("ResultLogs: %v", err)
	}
	if total != 0 || len(rows) != 0 {
		t.Fatalf("expected empty page, got %d/%d", len(rows), total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResultLogsRejectsUnknownField(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	_, _, err = st.ResultLogs(context.Background(), query.Predicate{query.Eq(query.FieldStatus, models.TaskNew)}, query.Window{Limit: 1})
	if err == nil {
		t.Fatalf("expected error for status on result logs")
	}
}

func TestTaskIDsMembership(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT t.id FROM distributed_query_task t WHERE 1=1 AND t.node_id = ANY($1) AND t.status = $2 ORDER BY t.id`)).
		WithArgs(sqlmock.AnyArg(), int64(models.TaskComplete)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)).AddRow(int64(9)))

	where := query.Predicate{query.In(query.FieldNodeID, 1, 2), query.Eq(query.FieldStatus, models.TaskComplete)}
	ids, err := st.TaskIDs(context.Background(), where)
	if err != nil {
		t.Fatalf("TaskIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 9 {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEmptyMembershipMatchesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM distributed_query_result d WHERE 1=1 AND FALSE`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM distributed_query_result d\s+WHERE 1=1 AND FALSE`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "distributed_query_task_id", "distributed_query_id", "columns", "timestamp"}))

	if _, _, err := st.DistributedResults(context.Background(), query.Predicate{query.In(query.FieldTaskID)}, query.Window{Limit: 10}); err != nil {
		t.Fatalf("DistributedResults: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNodeNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(`SELECT id, node_key, host_identifier, enrolled_on, last_checkin, is_active\s+FROM node\s+WHERE id=\$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "node_key", "host_identifier", "enrolled_on", "last_checkin", "is_active"}))

	if _, err := st.Node(context.Background(), 5); !errors.Is(err, query.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDistributedQueryLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, guid, sql, timestamp, not_before\s+FROM distributed_query\s+WHERE id=\$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "guid", "sql", "timestamp", "not_before"}).
			AddRow(int64(2), "g-2", "SELECT 1;", now, nil))

	dq, err := st.DistributedQuery(context.Background(), 2)
	if err != nil {
		t.Fatalf("DistributedQuery: %v", err)
	}
	if dq.SQL != "SELECT 1;" || dq.NotBefore != nil {
		t.Fatalf("unexpected distributed query: %+v", dq)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEngineDistributedNodeUsesSingleJoin(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM node\s+WHERE id=\$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "node_key", "host_identifier", "enrolled_on", "last_checkin", "is_active"}).
			AddRow(int64(1), "key-1", "node1", now, now, true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM distributed_query_result d WHERE d.distributed_query_task_id IN (SELECT t.id FROM distributed_query_task t WHERE 1=1 AND t.node_id = $1)`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`WHERE d.distributed_query_task_id IN \(SELECT t.id FROM distributed_query_task t WHERE 1=1 AND t.node_id = \$1\)\s+ORDER BY d.id ASC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs(int64(1), 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "distributed_query_task_id", "distributed_query_id", "columns", "timestamp"}).
			AddRow(int64(10), int64(3), int64(2), []byte(`{"result":1}`), now).
			AddRow(int64(11), int64(3), int64(2), []byte(`{"result":2}`), now))

	page, err := query.Execute(context.Background(), st, query.KindDistributed, []query.Filter{query.NodeFilter{NodeID: 1}}, 1, 20)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 || page.Items[0].RecordID() != 10 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEngineSurfacesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	boom := errors.New("driver: bad connection")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM result_log r`)).WillReturnError(boom)

	_, err = query.Execute(context.Background(), st, query.KindResult, nil, 1, 20)
	if !errors.Is(err, query.ErrStore) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestCreateTaskRejectsUnknownStatus(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	if _, err := st.CreateTask(context.Background(), models.DistributedQueryTask{NodeID: 1, DistributedQueryID: 1, Status: models.TaskStatus(9)}); err == nil {
		t.Fatalf("expected status validation error")
	}
}

func TestInsertResultLogEncodesColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO result_log (node_id, name, action, columns, timestamp)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`)).
		WithArgs(int64(1), "processes", "added", []byte(`{"pid":"7"}`), ts).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(99)))

	rec, err := st.InsertResultLog(context.Background(), models.ResultLog{NodeID: 1, Name: "processes", Action: "added", Columns: map[string]interface{}{"pid": "7"}, Timestamp: ts})
	if err != nil {
		t.Fatalf("InsertResultLog: %v", err)
	}
	if rec.ID != 99 {
		t.Fatalf("expected id 99, got %d", rec.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertDistributedResultTakesQueryFromTask(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	insert := `SELECT t.id, t.distributed_query_id, $3, $4
FROM distributed_query_task t
WHERE t.id=$1 AND ($2::BIGINT IS NULL OR t.distributed_query_id=$2)`

	mock.ExpectQuery(regexp.QuoteMeta(insert)).
		WithArgs(int64(4), sql.NullInt64{Int64: 9, Valid: true}, []byte(`{}`), ts).
		WillReturnError(sql.ErrNoRows)
	_, err = st.InsertDistributedResult(context.Background(), models.DistributedQueryResult{DistributedQueryTaskID: 4, DistributedQueryID: 9, Timestamp: ts})
	if err == nil || !strings.Contains(err.Error(), "outside distributed query 9") {
		t.Fatalf("expected mismatched query error, got %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(insert)).
		WithArgs(int64(4), sql.NullInt64{}, []byte(`{}`), ts).
		WillReturnRows(sqlmock.NewRows([]string{"id", "distributed_query_id"}).AddRow(int64(11), int64(3)))
	rec, err := st.InsertDistributedResult(context.Background(), models.DistributedQueryResult{DistributedQueryTaskID: 4, Timestamp: ts})
	if err != nil {
		t.Fatalf("InsertDistributedResult: %v", err)
	}
	if rec.ID != 11 || rec.DistributedQueryID != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTaskLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, guid, node_id, distributed_query_id, status, timestamp\s+FROM distributed_query_task\s+WHERE id=\$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "guid", "node_id", "distributed_query_id", "status", "timestamp"}).
			AddRow(int64(5), "g-5", int64(2), int64(1), int64(2), ts))
	mock.ExpectQuery(`FROM distributed_query_task\s+WHERE id=\$1`).
		WithArgs(int64(6)).
		WillReturnError(sql.ErrNoRows)

	task, err := st.Task(context.Background(), 5)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if task.NodeID != 2 || task.Status != models.TaskComplete || task.GUID != "g-5" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if _, err := st.Task(context.Background(), 6); !errors.Is(err, query.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
