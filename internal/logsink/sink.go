// Package logsink forwards query results to external log pipelines.
package logsink

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/doorman/models"
)

const (
	LogTypeResult      = "result"
	LogTypeDistributed = "distributed"
)

// Document is the logstash-compatible shape of one forwarded record.
type Document struct {
	Version        int                    `json:"@version"`
	HostIdentifier string                 `json:"@host_identifier"`
	Timestamp      string                 `json:"@timestamp"`
	LogType        string                 `json:"log_type"`
	Action         string                 `json:"action,omitempty"`
	Columns        map[string]interface{} `json:"columns"`
	Name           string                 `json:"name,omitempty"`
	Created        string                 `json:"created"`

	DistributedQueryID     int64 `json:"distributed_query_id,omitempty"`
	DistributedQueryTaskID int64 `json:"distributed_query_task_id,omitempty"`
}

// Batch is one page of documents forwarded together.
type Batch struct {
	ID        string
	Documents []Document
}

// Sink receives batches. Implementations must be safe for use by a single
// exporter goroutine; the exporter never writes to one sink concurrently.
type Sink interface {
	Name() string
	Write(ctx context.Context, b Batch) error
	Close() error
}

func isoformat(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// FromResultLog converts a result log. host may be empty when the node is unknown.
func FromResultLog(r models.ResultLog, host string, created time.Time) Document {
	return Document{
		Version:        1,
		HostIdentifier: host,
		Timestamp:      isoformat(r.Timestamp),
		LogType:        LogTypeResult,
		Action:         r.Action,
		Columns:        r.Columns,
		Name:           r.Name,
		Created:        isoformat(created),
	}
}

func FromDistributedResult(r models.DistributedQueryResult, host string, created time.Time) Document {
	return Document{
		Version:                1,
		HostIdentifier:         host,
		Timestamp:              isoformat(r.Timestamp),
		LogType:                LogTypeDistributed,
		Columns:                r.Columns,
		Name:                   fmt.Sprintf("distributed_query:%d", r.DistributedQueryID),
		Created:                isoformat(created),
		DistributedQueryID:     r.DistributedQueryID,
		DistributedQueryTaskID: r.DistributedQueryTaskID,
	}
}
