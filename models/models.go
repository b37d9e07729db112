package models

import (
	"fmt"
	"strings"
	"time"
)

// Record is implemented by every row type the query engine can return.
type Record interface {
	RecordID() int64
	RecordTime() time.Time
}

// Node is an enrolled endpoint agent.
type Node struct {
	ID             int64     `json:"id"`
	NodeKey        string    `json:"node_key"`
	HostIdentifier string    `json:"host_identifier"`
	EnrolledOn     time.Time `json:"enrolled_on"`
	LastCheckin    time.Time `json:"last_checkin"`
	IsActive       bool      `json:"is_active"`
}

// ResultLog is one row produced by a node's scheduled query.
type ResultLog struct {
	ID        int64                  `json:"id"`
	NodeID    int64                  `json:"node_id"`
	Name      string                 `json:"name"`
	Action    string                 `json:"action"`
	Columns   map[string]interface{} `json:"columns"`
	Timestamp time.Time              `json:"timestamp"`
}

func (r ResultLog) RecordID() int64       { return r.ID }
func (r ResultLog) RecordTime() time.Time { return r.Timestamp }

// Result log actions reported by agents.
const (
	ActionAdded    = "added"
	ActionRemoved  = "removed"
	ActionSnapshot = "snapshot"
)

// DistributedQuery is an on-demand query definition.
type DistributedQuery struct {
	ID        int64      `json:"id"`
	GUID      string     `json:"guid"`
	SQL       string     `json:"sql"`
	Timestamp time.Time  `json:"timestamp"`
	NotBefore *time.Time `json:"not_before,omitempty"`
}

// TaskStatus is the lifecycle state of a distributed query task.
type TaskStatus int

const (
	TaskNew TaskStatus = iota
	TaskPending
	TaskComplete
)

func (s TaskStatus) String() string {
	switch s {
	case TaskNew:
		return "new"
	case TaskPending:
		return "pending"
	case TaskComplete:
		return "complete"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool { return s >= TaskNew && s <= TaskComplete }

func (s TaskStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid task status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(b []byte) error {
	v, err := ParseTaskStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseTaskStatus accepts the lower-case names used in admin URLs.
func ParseTaskStatus(v string) (TaskStatus, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "new":
		return TaskNew, nil
	case "pending":
		return TaskPending, nil
	case "complete":
		return TaskComplete, nil
	}
	return 0, fmt.Errorf("unknown task status %q", v)
}

// DistributedQueryTask assigns a distributed query to one node.
type DistributedQueryTask struct {
	ID                 int64      `json:"id"`
	GUID               string     `json:"guid"`
	NodeID             int64      `json:"node_id"`
	DistributedQueryID int64      `json:"distributed_query_id"`
	Status             TaskStatus `json:"status"`
	Timestamp          time.Time  `json:"timestamp"`
}

// DistributedQueryResult is a row returned by a node for a task.
type DistributedQueryResult struct {
	ID                     int64                  `json:"id"`
	DistributedQueryTaskID int64                  `json:"distributed_query_task_id"`
	DistributedQueryID     int64                  `json:"distributed_query_id"`
	Columns                map[string]interface{} `json:"columns"`
	Timestamp              time.Time              `json:"timestamp"`
}

func (r DistributedQueryResult) RecordID() int64       { return r.ID }
func (r DistributedQueryResult) RecordTime() time.Time { return r.Timestamp }
