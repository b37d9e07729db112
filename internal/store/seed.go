package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/doorman/models"
)

// SeedSummary counts the records created by SeedDemo.
type SeedSummary struct {
	Nodes              int `json:"nodes"`
	ResultLogs         int `json:"result_logs"`
	DistributedQueries int `json:"distributed_queries"`
	Tasks              int `json:"tasks"`
	DistributedResults int `json:"distributed_results"`
}

var seedActions = []string{models.ActionAdded, models.ActionRemoved, models.ActionSnapshot}

// SeedDemo populates w with a small fleet: nodes with result logs for each
// action, and one distributed query with a task per node whose status cycles
// through new, pending and complete. Only complete tasks get result rows.
func SeedDemo(ctx context.Context, w Writer, nodes int) (SeedSummary, error) {
	var sum SeedSummary
	if nodes <= 0 {
		return sum, fmt.Errorf("seed: node count must be positive")
	}
	base := time.Now().UTC().Add(-time.Hour)

	dq, err := w.CreateDistributedQuery(ctx, models.DistributedQuery{SQL: "SELECT * FROM osquery_info;", Timestamp: base})
	if err != nil {
		return sum, fmt.Errorf("seed distributed query: %w", err)
	}
	sum.DistributedQueries++

	for i := 0; i < nodes; i++ {
		node, err := w.CreateNode(ctx, models.Node{
			HostIdentifier: fmt.Sprintf("node-%02d", i+1),
			IsActive:       true,
			EnrolledOn:     base,
			LastCheckin:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			return sum, fmt.Errorf("seed node: %w", err)
		}
		sum.Nodes++

		for j, action := range seedActions {
			_, err := w.InsertResultLog(ctx, models.ResultLog{
				NodeID:    node.ID,
				Name:      "pack/osquery-monitoring/processes",
				Action:    action,
				Columns:   map[string]interface{}{"pid": fmt.Sprint(100 + j), "name": "launchd"},
				Timestamp: base.Add(time.Duration(i*len(seedActions)+j) * time.Second),
			})
			if err != nil {
				return sum, fmt.Errorf("seed result log: %w", err)
			}
			sum.ResultLogs++
		}

		status := models.TaskStatus(i % 3)
		task, err := w.CreateTask(ctx, models.DistributedQueryTask{
			NodeID:             node.ID,
			DistributedQueryID: dq.ID,
			Status:             status,
			Timestamp:          base,
		})
		if err != nil {
			return sum, fmt.Errorf("seed task: %w", err)
		}
		sum.Tasks++
		if status != models.TaskComplete {
			continue
		}
		for k := 0; k < 2; k++ {
			_, err := w.InsertDistributedResult(ctx, models.DistributedQueryResult{
				DistributedQueryTaskID: task.ID,
				DistributedQueryID:     dq.ID,
				Columns:                map[string]interface{}{"version": "5.10.2", "row": fmt.Sprint(k)},
				Timestamp:              base.Add(time.Duration(k) * time.Second),
			})
			if err != nil {
				return sum, fmt.Errorf("seed distributed result: %w", err)
			}
			sum.DistributedResults++
		}
	}
	return sum, nil
}
