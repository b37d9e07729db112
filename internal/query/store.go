package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/doorman/models"
)

// Field names a column a predicate or an ordering may refer to.
type Field string

const (
	FieldID                 Field = "id"
	FieldNodeID             Field = "node_id"
	FieldAction             Field = "action"
	FieldTimestamp          Field = "timestamp"
	FieldDistributedQueryID Field = "distributed_query_id"
	FieldStatus             Field = "status"
	FieldTaskID             Field = "distributed_query_task_id"
)

// Condition matches rows whose Field equals one of Values. A condition with
// no values matches nothing.
type Condition struct {
	Field  Field
	Values []interface{}
}

// Eq builds an equality condition.
func Eq(field Field, v interface{}) Condition {
	return Condition{Field: field, Values: []interface{}{v}}
}

// In builds a membership condition over ids.
func In(field Field, ids ...int64) Condition {
	vals := make([]interface{}, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return Condition{Field: field, Values: vals}
}

// Predicate is a conjunction of conditions. The zero value matches every row.
type Predicate []Condition

// And returns a new predicate with c appended.
func (p Predicate) And(c Condition) Predicate {
	out := make(Predicate, len(p), len(p)+1)
	copy(out, p)
	return append(out, c)
}

// Order is a stable sort specification. Ties are always broken by id ascending.
type Order struct {
	Field Field `json:"field"`
	Desc  bool  `json:"desc"`
}

// DefaultOrder sorts by identity ascending.
var DefaultOrder = Order{Field: FieldID}

// ParseOrder validates an order_by/sort pair. An empty orderBy selects id and
// an unrecognised sort falls back to ascending.
func ParseOrder(orderBy, sort string) (Order, error) {
	o := Order{Field: Field(strings.ToLower(strings.TrimSpace(orderBy)))}
	if o.Field == "" {
		o.Field = FieldID
	}
	if err := o.validate(); err != nil {
		return Order{}, err
	}
	o.Desc = strings.EqualFold(strings.TrimSpace(sort), "desc")
	return o, nil
}

func (o Order) validate() error {
	switch o.Field {
	case FieldID, FieldTimestamp:
		return nil
	}
	return fmt.Errorf("%w: cannot order by %q", ErrInvalidOrder, o.Field)
}

// Window selects one page of a filtered record set.
type Window struct {
	Offset int
	Limit  int
	Order  Order
}

// RecordStore is the persistence collaborator the engine reads from. It is
// never asked to mutate anything.
type RecordStore interface {
	// Node returns ErrRecordNotFound when id does not exist.
	Node(ctx context.Context, id int64) (models.Node, error)
	// DistributedQuery returns ErrRecordNotFound when id does not exist.
	DistributedQuery(ctx context.Context, id int64) (models.DistributedQuery, error)
	// ResultLogs returns one window of matching result logs and the total match count.
	ResultLogs(ctx context.Context, where Predicate, win Window) ([]models.ResultLog, int, error)
	// TaskIDs returns the ids of all distributed query tasks matching where.
	TaskIDs(ctx context.Context, where Predicate) ([]int64, error)
	// DistributedResults returns one window of matching distributed results and the total match count.
	DistributedResults(ctx context.Context, where Predicate, win Window) ([]models.DistributedQueryResult, int, error)
}

// TaskJoiner is implemented by stores that can select distributed results
// for the tasks matching a predicate in a single statement.
type TaskJoiner interface {
	DistributedResultsForTasks(ctx context.Context, tasks Predicate, win Window) ([]models.DistributedQueryResult, int, error)
}
