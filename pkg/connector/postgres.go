package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/extract"
	"github.com/ormasoftchile/dumper/pkg/logging"
	"github.com/ormasoftchile/dumper/pkg/task"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

const pingTimeout = 10 * time.Second

// PostgreSQL extracts catalog metadata and statistics from a PostgreSQL
// server.
type PostgreSQL struct{}

func (*PostgreSQL) Name() string { return "postgresql" }

func (*PostgreSQL) Description() string {
	return "PostgreSQL catalog, statistics and settings"
}

func (*PostgreSQL) Validate(args *config.Arguments) error {
	if args.URL == "" {
		return usage.New("the postgresql connector needs a database", "set --url or "+config.EnvURL)
	}
	if _, err := pgx.ParseConfig(args.URL); err != nil {
		return usage.Wrap(err, "invalid --url")
	}
	return nil
}

func (*PostgreSQL) Open(ctx context.Context, args *config.Arguments) (*Handle, error) {
	db, err := openPostgres(ctx, args)
	if err != nil {
		return nil, err
	}
	return &Handle{DB: db, HTTP: NewHTTPClient(args)}, nil
}

// openPostgres connects through the pgx database/sql driver, sized to the
// run's pool size, and pings the server.
func openPostgres(ctx context.Context, args *config.Arguments) (*sql.DB, error) {
	cc, err := pgx.ParseConfig(args.URL)
	if err != nil {
		return nil, usage.Wrap(err, "invalid --url")
	}
	if args.Password != "" {
		cc.Password = args.Password
	}
	db := stdlib.OpenDB(*cc)
	pool := max(1, args.PoolSize)
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s:%d/%s: %w", cc.Host, cc.Port, cc.Database, err)
	}
	logging.FromContext(ctx).Debug("connected", "host", cc.Host, "port", cc.Port, "database", cc.Database, "pool_size", pool)
	return db, nil
}

// Catalog queries. System schemas are left out.
const (
	versionSQL = `SELECT version() AS version,
       current_setting('server_version_num') AS version_num,
       current_database() AS database`

	schemataSQL = `SELECT n.nspname AS nspname, r.rolname AS owner
FROM pg_namespace n JOIN pg_roles r ON r.oid = n.nspowner
WHERE n.nspname NOT LIKE 'pg\_%' AND n.nspname <> 'information_schema'
ORDER BY 1`

	tablesSQL = `SELECT table_schema, table_name, table_type
FROM information_schema.tables
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY 1, 2`

	columnsSQL = `SELECT table_schema, table_name, column_name, ordinal_position,
       data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY 1, 2, 4`

	viewsSQL = `SELECT schemaname, viewname, viewowner, definition
FROM pg_views
WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
ORDER BY 1, 2`

	functionsSQL = `SELECT n.nspname AS schema, p.proname AS name,
       pg_get_function_identity_arguments(p.oid) AS arguments,
       l.lanname AS language
FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
JOIN pg_language l ON l.oid = p.prolang
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')
ORDER BY 1, 2`

	indexesSQL = `SELECT schemaname, tablename, indexname, indexdef
FROM pg_indexes
WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
ORDER BY 1, 2, 3`

	tableStatsSQL = `SELECT relname, n_live_tup, n_dead_tup, seq_scan, idx_scan,
       last_vacuum, last_autovacuum, last_analyze
FROM pg_stat_user_tables
WHERE schemaname = $1
ORDER BY relname`

	settingsSQL = `SELECT name, setting, unit, source FROM pg_settings ORDER BY name`

	rolesSQL = `SELECT rolname, rolsuper, rolcreatedb, rolcanlogin, rolreplication
FROM pg_roles ORDER BY rolname`

	statementsSQL = `SELECT queryid, calls, total_exec_time, rows, query
FROM pg_stat_statements ORDER BY total_exec_time DESC LIMIT 500`

	activitySQL = `SELECT datname, usename, application_name, state, backend_type
FROM pg_stat_activity ORDER BY datname, usename`
)

func (*PostgreSQL) Tasks(args *config.Arguments) ([]task.Task, error) {
	expected := task.Recognize(extract.PostgresCodes(extract.InsufficientPrivilege, extract.UndefinedTable))

	version := extract.NewQuery("postgresql/version.csv", extract.QuerySpec{
		SQL:     versionSQL,
		Columns: []string{"version", "version_num", "database"},
	}, task.WithName("server_version"))

	schemata := extract.NewQuery("postgresql/schemata.csv", extract.QuerySpec{
		SQL:     schemataSQL,
		Columns: []string{"nspname", "owner"},
		Collect: "nspname",
	}, task.WithName("schemata"))

	tables := extract.NewQuery("postgresql/catalog/tables.csv", extract.QuerySpec{SQL: tablesSQL}, task.WithName("tables"))
	catalog := task.NewGroup("catalog", []task.Task{
		tables,
		extract.NewQuery("postgresql/catalog/columns.csv", extract.QuerySpec{SQL: columnsSQL},
			task.WithName("columns"), task.When(task.OnlyIfSucceeded(tables))),
		extract.NewQuery("postgresql/catalog/views.csv", extract.QuerySpec{SQL: viewsSQL}, task.WithName("views")),
		extract.NewQuery("postgresql/catalog/functions.csv", extract.QuerySpec{SQL: functionsSQL},
			task.WithName("functions"), task.AsOptional()),
		extract.NewQuery("postgresql/catalog/indexes.csv", extract.QuerySpec{SQL: indexesSQL}, task.WithName("indexes")),
	}, task.WithOutput("postgresql/catalog.csv"), task.Describe("catalog snapshot"))

	tableStats := extract.NewFanOutQuery("postgresql/table_stats.csv", extract.FanOutSpec{
		SQL:        tableStatsSQL,
		ItemColumn: "schema",
		Source:     schemata,
	}, task.WithName("table_stats"))

	statements := extract.NewQuery("postgresql/statements.csv", extract.QuerySpec{SQL: statementsSQL},
		task.WithName("statements"), task.AsOptional(), expected,
		task.Describe("top statements from pg_stat_statements"))

	return []task.Task{
		version,
		schemata,
		catalog,
		tableStats,
		extract.NewQuery("postgresql/settings.csv", extract.QuerySpec{SQL: settingsSQL},
			task.WithName("settings"), task.AsOptional(), expected),
		extract.NewQuery("postgresql/roles.csv", extract.QuerySpec{SQL: rolesSQL},
			task.WithName("roles"), task.AsOptional(), expected),
		statements,
		extract.NewQuery("postgresql/activity.csv", extract.QuerySpec{SQL: activitySQL},
			task.WithName("activity"), task.AsOptional(), expected, task.When(task.OnlyIfFailed(statements)),
			task.Describe("session overview when pg_stat_statements is unavailable")),
	}, nil
}
