package store

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/doorman/internal/query"
	"github.com/mohammad-safakhou/doorman/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRejectsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.InsertResultLog(ctx, models.ResultLog{NodeID: 1, Name: "q"})
	require.Error(t, err)

	n, err := m.CreateNode(ctx, models.Node{HostIdentifier: "n"})
	require.NoError(t, err)
	_, err = m.CreateTask(ctx, models.DistributedQueryTask{NodeID: n.ID, DistributedQueryID: 77})
	require.Error(t, err)
	_, err = m.InsertDistributedResult(ctx, models.DistributedQueryResult{DistributedQueryTaskID: 77})
	require.Error(t, err)
}

func TestMemoryResultInheritsQueryFromTask(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	n, _ := m.CreateNode(ctx, models.Node{HostIdentifier: "n"})
	q, _ := m.CreateDistributedQuery(ctx, models.DistributedQuery{SQL: "SELECT 1;"})
	task, err := m.CreateTask(ctx, models.DistributedQueryTask{NodeID: n.ID, DistributedQueryID: q.ID})
	require.NoError(t, err)

	r, err := m.InsertDistributedResult(ctx, models.DistributedQueryResult{DistributedQueryTaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, q.ID, r.DistributedQueryID)
}

func TestMemoryUnsupportedField(t *testing.T) {
	m := NewMemory()
	n, _ := m.CreateNode(context.Background(), models.Node{HostIdentifier: "n"})
	_, err := m.InsertResultLog(context.Background(), models.ResultLog{NodeID: n.ID, Name: "q"})
	require.NoError(t, err)

	_, _, err = m.ResultLogs(context.Background(), query.Predicate{query.Eq(query.FieldStatus, models.TaskNew)}, query.Window{Limit: 1})
	require.Error(t, err)
}

func TestMemoryWindowPastEnd(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	n, _ := m.CreateNode(ctx, models.Node{HostIdentifier: "n"})
	for i := 0; i < 3; i++ {
		_, err := m.InsertResultLog(ctx, models.ResultLog{NodeID: n.ID, Name: "q"})
		require.NoError(t, err)
	}
	rows, total, err := m.ResultLogs(ctx, nil, query.Window{Offset: 10, Limit: 5, Order: query.DefaultOrder})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 3, total)
}

func TestSeedDemoFeedsEngine(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sum, err := SeedDemo(ctx, m, 6)
	require.NoError(t, err)
	assert.Equal(t, SeedSummary{Nodes: 6, ResultLogs: 18, DistributedQueries: 1, Tasks: 6, DistributedResults: 4}, sum)

	page, err := query.Execute(ctx, m, query.KindDistributed, []query.Filter{query.StatusFilter{Status: models.TaskComplete}}, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)

	page, err = query.Execute(ctx, m, query.KindDistributed, []query.Filter{query.StatusFilter{Status: models.TaskNew}}, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	page, err = query.Execute(ctx, m, query.KindResult, []query.Filter{query.ActionFilter{Action: models.ActionSnapshot}}, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)

	_, err = SeedDemo(ctx, m, 0)
	require.Error(t, err)
}

func TestMemorySequencesArePerTable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := SeedDemo(ctx, m, 3)
	require.NoError(t, err)

	for i, host := range []string{"node-01", "node-02", "node-03"} {
		n, err := m.Node(ctx, int64(i+1))
		require.NoError(t, err)
		assert.Equal(t, host, n.HostIdentifier)
	}
	q, err := m.DistributedQuery(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ID)

	task, err := m.Task(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), task.NodeID)
	assert.Equal(t, models.TaskPending, task.Status)

	_, err = m.Task(ctx, 99)
	assert.ErrorIs(t, err, query.ErrRecordNotFound)
}

func TestMemoryRejectsResultForOtherQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	n, _ := m.CreateNode(ctx, models.Node{HostIdentifier: "n"})
	q1, _ := m.CreateDistributedQuery(ctx, models.DistributedQuery{SQL: "SELECT 1;"})
	q2, _ := m.CreateDistributedQuery(ctx, models.DistributedQuery{SQL: "SELECT 2;"})
	task, err := m.CreateTask(ctx, models.DistributedQueryTask{NodeID: n.ID, DistributedQueryID: q1.ID})
	require.NoError(t, err)

	_, err = m.InsertDistributedResult(ctx, models.DistributedQueryResult{DistributedQueryTaskID: task.ID, DistributedQueryID: q2.ID})
	require.Error(t, err)

	r, err := m.InsertDistributedResult(ctx, models.DistributedQueryResult{DistributedQueryTaskID: task.ID, DistributedQueryID: q1.ID})
	require.NoError(t, err)
	assert.Equal(t, q1.ID, r.DistributedQueryID)

	page, err := query.Execute(ctx, m, query.KindDistributed, []query.Filter{query.QueryFilter{ID: q2.ID}}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}
