// Package extract provides the leaf tasks that pull data out of external
// systems and write it to sinks.
package extract

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ormasoftchile/dumper/pkg/task"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// Rows is the subset of *sql.Rows that query tasks read.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Querier runs SQL against the connected system.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// querier extracts SQL access from the run's handle.
func querier(rc task.RunContext) (Querier, error) {
	q, ok := rc.Handle().(Querier)
	if !ok || q == nil {
		return nil, usage.New("this connector does not provide SQL access")
	}
	return q, nil
}

// QuerySpec describes a query whose result is written as CSV.
type QuerySpec struct {
	SQL  string
	Args []any
	// Columns, when set, is the CSV header and the exact number of columns
	// the query must return.
	Columns []string
	// Collect names a column whose values become the task's value. When
	// continue mode skips the write, the query still runs to collect them.
	Collect string
}

// QueryTask writes the result of a SQL query as CSV.
type QueryTask struct {
	task.Base
	spec QuerySpec
}

func NewQuery(path string, spec QuerySpec, opts ...task.Option) *QueryTask {
	return &QueryTask{Base: task.NewBase(path, opts...), spec: spec}
}

func (t *QueryTask) Run(ctx context.Context, rc task.RunContext) (any, error) {
	q, err := querier(rc)
	if err != nil {
		return nil, err
	}
	var collected []string
	skipped, err := t.WriteOutput(ctx, rc, func(w io.Writer) error {
		res, err := runQuery(ctx, q, t.spec.SQL, t.spec.Args, t.spec.Columns)
		if err != nil {
			return fmt.Errorf("%s: %w", t.Name(), err)
		}
		if t.spec.Collect != "" {
			if collected, err = res.column(t.spec.Collect); err != nil {
				return err
			}
		}
		return writeCSV(w, res.header, res.records)
	})
	if err != nil || t.spec.Collect == "" {
		return nil, err
	}
	if skipped {
		// Later tasks still need the values; the existing output is kept.
		if collected, err = t.collect(ctx, q); err != nil {
			return nil, err
		}
	}
	return collected, nil
}

// collect runs the query again only to read the Collect column.
func (t *QueryTask) collect(ctx context.Context, q Querier) ([]string, error) {
	res, err := runQuery(ctx, q, t.spec.SQL, t.spec.Args, t.spec.Columns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name(), err)
	}
	return res.column(t.spec.Collect)
}

func (t *QueryTask) String() string {
	if s := t.Base.String(); s != t.Name() {
		return s
	}
	return fmt.Sprintf("query %s: %s", t.Name(), oneLine(t.spec.SQL))
}

// result is a fully read query result, rendered as strings.
type result struct {
	header  []string
	records [][]string
}

func (r *result) column(name string) ([]string, error) {
	idx := -1
	for i, h := range r.header {
		if strings.EqualFold(h, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, usage.Newf("column %q not found in %v", name, r.header)
	}
	out := make([]string, len(r.records))
	for i, rec := range r.records {
		out[i] = rec[idx]
	}
	return out, nil
}

// runQuery executes sql and reads every row. A column-count mismatch against
// declared is a usage error, wrapped so the query context is kept.
func runQuery(ctx context.Context, q Querier, sql string, args []any, declared []string) (*result, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	header := cols
	if len(declared) > 0 {
		if len(declared) != len(cols) {
			return nil, fmt.Errorf("query: %w", usage.New(
				fmt.Sprintf("query returned %d columns, expected %d", len(cols), len(declared)),
				"expected: "+strings.Join(declared, ", "),
				"returned: "+strings.Join(cols, ", "),
			))
		}
		header = declared
	}

	res := &result{header: header}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make([]string, len(values))
		for i, v := range values {
			rec[i] = formatValue(v)
		}
		res.records = append(res.records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return res, nil
}

func writeCSV(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// formatValue renders a scanned value for CSV. Binary values are base64.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
