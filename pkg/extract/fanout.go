package extract

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/ormasoftchile/dumper/pkg/task"
)

// FanOutSpec describes a query run once per item produced by an earlier task.
type FanOutSpec struct {
	// SQL receives the item as its only argument.
	SQL     string
	Columns []string
	// ItemColumn heads the column that records which item a row belongs to.
	ItemColumn string
	// Source produces the items as a []string value.
	Source task.Task
}

// FanOutQueryTask runs one query per item with up to PoolSize queries in
// flight and writes all rows, ordered by item, to a single CSV.
type FanOutQueryTask struct {
	task.Base
	spec FanOutSpec
}

// NewFanOutQuery creates the task. It only runs once Source has succeeded.
func NewFanOutQuery(path string, spec FanOutSpec, opts ...task.Option) *FanOutQueryTask {
	opts = append(opts, task.When(task.OnlyIfSucceeded(spec.Source)))
	if spec.ItemColumn == "" {
		spec.ItemColumn = "item"
	}
	return &FanOutQueryTask{Base: task.NewBase(path, opts...), spec: spec}
}

func (t *FanOutQueryTask) Run(ctx context.Context, rc task.RunContext) (any, error) {
	q, err := querier(rc)
	if err != nil {
		return nil, err
	}
	items, ok := task.ValueOf[[]string](rc, t.spec.Source)
	if !ok {
		return nil, fmt.Errorf("%s: %s produced no items", t.Name(), t.spec.Source.Name())
	}
	_, err = t.WriteOutput(ctx, rc, func(w io.Writer) error {
		results, err := t.queryAll(ctx, q, items, rc.PoolSize())
		if err != nil {
			return err
		}
		header := append([]string{t.spec.ItemColumn}, t.spec.Columns...)
		var records [][]string
		for i, res := range results {
			if len(t.spec.Columns) == 0 && i == 0 {
				header = append([]string{t.spec.ItemColumn}, res.header...)
			}
			for _, rec := range res.records {
				records = append(records, append([]string{items[i]}, rec...))
			}
		}
		return writeCSV(w, header, records)
	})
	return nil, err
}

// queryAll runs the query for every item, keeping results in item order.
// The first error cancels the queries still in flight.
func (t *FanOutQueryTask) queryAll(ctx context.Context, q Querier, items []string, limit int) ([]*result, error) {
	results := make([]*result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			res, err := runQuery(gctx, q, t.spec.SQL, []any{item}, t.spec.Columns)
			if err != nil {
				return fmt.Errorf("%s for %s: %w", t.Name(), item, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *FanOutQueryTask) String() string {
	if s := t.Base.String(); s != t.Name() {
		return s
	}
	return fmt.Sprintf("query %s for each item of %s: %s", t.Name(), t.spec.Source.Name(), oneLine(t.spec.SQL))
}
