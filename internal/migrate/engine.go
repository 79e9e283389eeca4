// ABOUTME: Startup migration engine: snapshot, plan, backup, apply
// ABOUTME: Forward-only additive migrations, idempotent and safe to re-run concurrently

package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrStoreUnavailable is returned when the schema of the live database cannot
// be inspected. This is fatal: the process must not start against an
// unreadable store.
var ErrStoreUnavailable = errors.New("store unavailable")

// Snapshot is the set of tables and columns actually present in the live
// database at the moment of inspection.
type Snapshot map[string]map[string]bool

// HasTable reports whether a table exists in the snapshot.
func (s Snapshot) HasTable(name string) bool {
	_, ok := s[name]
	return ok
}

// HasColumn reports whether a table has a column in the snapshot.
func (s Snapshot) HasColumn(table, column string) bool {
	cols, ok := s[table]
	return ok && cols[column]
}

// OpKind identifies an additive migration operation.
type OpKind string

const (
	OpCreateTable OpKind = "create_table"
	OpAddColumn   OpKind = "add_column"
)

// Operation is one additive step of a migration plan.
type Operation struct {
	Kind   OpKind
	Table  string
	Column ColumnSpec // set for OpAddColumn
	Spec   TableSpec  // set for OpCreateTable
}

// Plan is an ordered list of additive operations: table creations first
// (alphabetical by table), then column additions (alphabetical by table, in
// declared column order). The order makes re-runs observably deterministic.
type Plan struct {
	Ops []Operation
}

// Empty reports whether the plan contains no operations.
func (p Plan) Empty() bool {
	return len(p.Ops) == 0
}

// AddsColumn reports whether the plan adds the named column to the table.
func (p Plan) AddsColumn(table, column string) bool {
	for _, op := range p.Ops {
		if op.Kind == OpAddColumn && op.Table == table && op.Column.Name == column {
			return true
		}
	}
	return false
}

// Config holds the engine's inputs beyond the database handle itself.
type Config struct {
	// Path is the database file location, used for backups.
	Path string
	// BackupDir overrides the default <dir(Path)>/backups destination.
	BackupDir string
	// Seed holds the default admin credentials used when the user table is
	// empty. Zero values fall back to environment variables, then defaults.
	Seed SeedCredentials
}

// Engine brings a live database of unknown prior schema version up to the
// desired schema. It runs once, synchronously, at process startup.
type Engine struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a migration engine over an open database handle.
func NewEngine(db *sql.DB, cfg Config) *Engine {
	return &Engine{
		db:     db,
		cfg:    cfg,
		logger: slog.Default().With("component", "migrate"),
		now:    time.Now,
	}
}

// BackupRecord describes a pre-migration snapshot of the database file.
type BackupRecord struct {
	Path      string
	CreatedAt time.Time
}

// Result summarizes one startup migration pass.
type Result struct {
	FreshStore      bool
	Plan            Plan
	Applied         int
	Backup          *BackupRecord
	SeededAdminID   string
	BackfilledBooks int64
	BackfilledLogs  int64
}

// Run executes the full startup sequence: inspect, plan, back up, apply,
// seed, backfill. Only schema inspection and seed-password policy failures
// abort; everything else degrades with a log line so the process can still
// serve existing data.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	snapshot, err := e.Inspect(ctx)
	if err != nil {
		return nil, err
	}

	desired := DesiredSchema()
	plan := PlanMigration(snapshot, desired)
	result := &Result{Plan: plan, FreshStore: len(snapshot) == 0}

	switch {
	case result.FreshStore:
		// Nothing to lose, so no backup: create the full schema directly.
		e.logger.Info("empty store, creating full schema", "tables", len(desired))
		result.Applied = e.Apply(ctx, plan)
	case plan.Empty():
		e.logger.Info("schema up to date, no migration needed")
	default:
		e.logger.Info("schema migration needed", "operations", len(plan.Ops))
		result.Backup = e.Backup()
		result.Applied = e.Apply(ctx, plan)
	}

	e.applyIndexes(ctx)

	seededID, err := e.SeedDefaultAdminIfEmpty(ctx)
	if err != nil {
		return nil, err
	}
	result.SeededAdminID = seededID

	// Backfill only when this pass introduced the ownership column; rows
	// created before multi-user support belong to the first admin.
	if plan.AddsColumn("book", "user_id") || plan.AddsColumn("reading_log", "user_id") {
		books, logs := e.BackfillOwnership(ctx)
		result.BackfilledBooks, result.BackfilledLogs = books, logs
	}

	return result, nil
}

// Inspect reads the actual table and column metadata from the live database.
func (e *Engine) Inspect(ctx context.Context) (Snapshot, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tables: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := Snapshot{}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scanning table name: %v", ErrStoreUnavailable, err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating tables: %v", ErrStoreUnavailable, err)
	}

	for _, table := range tables {
		cols, err := e.tableColumns(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("%w: inspecting table %s: %v", ErrStoreUnavailable, table, err)
		}
		snapshot[table] = cols
	}

	return snapshot, nil
}

func (e *Engine) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := e.db.QueryContext(ctx,
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// PlanMigration diffs a snapshot against the desired schema and returns the
// additive operations needed. Pure function: no database access, no side
// effects, deterministic output order.
func PlanMigration(snapshot Snapshot, desired Schema) Plan {
	specs := make([]TableSpec, len(desired))
	copy(specs, desired)
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	var plan Plan
	for _, spec := range specs {
		if !snapshot.HasTable(spec.Name) {
			plan.Ops = append(plan.Ops, Operation{Kind: OpCreateTable, Table: spec.Name, Spec: spec})
		}
	}
	for _, spec := range specs {
		if !snapshot.HasTable(spec.Name) {
			continue
		}
		for _, col := range spec.Columns {
			if !snapshot.HasColumn(spec.Name, col.Name) {
				plan.Ops = append(plan.Ops, Operation{Kind: OpAddColumn, Table: spec.Name, Column: col})
			}
		}
	}
	return plan
}

// NeedsMigration reports whether a plan requires migrating an existing store.
// A store with no tables at all is created fresh rather than migrated.
func NeedsMigration(snapshot Snapshot, plan Plan) bool {
	return !plan.Empty() && len(snapshot) > 0
}

// Backup copies the database file to the backup directory with a timestamp
// suffix. Failure is a warning, never fatal: migration proceeds regardless.
func (e *Engine) Backup() *BackupRecord {
	if e.cfg.Path == "" {
		e.logger.Warn("no database path configured, skipping backup")
		return nil
	}

	backupDir := e.cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(e.cfg.Path), "backups")
	}

	now := e.now()
	name := fmt.Sprintf("%s.backup_%s", filepath.Base(e.cfg.Path), now.Format("20060102_150405"))
	dest := filepath.Join(backupDir, name)

	if err := copyFile(e.cfg.Path, dest); err != nil {
		e.logger.Warn("could not back up database, continuing without backup",
			"source", e.cfg.Path, "dest", dest, "error", err)
		return nil
	}

	e.logger.Info("database backed up", "dest", dest)
	return &BackupRecord{Path: dest, CreatedAt: now}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying: %w", err)
	}
	return out.Sync()
}

// Apply executes the plan. Column additions for one table share a
// transaction; a failed unit rolls back, is logged and skipped, and the
// remaining units still run. Returns the number of DDL statements executed.
//
// Each ALTER re-checks column existence first: another worker may have
// applied the same plan between our snapshot and now, and a duplicate column
// must be a no-op rather than a crash.
func (e *Engine) Apply(ctx context.Context, plan Plan) int {
	applied := 0

	for _, op := range plan.Ops {
		if op.Kind != OpCreateTable {
			continue
		}
		// CREATE TABLE IF NOT EXISTS is already concurrency-safe.
		if _, err := e.db.ExecContext(ctx, createTableSQL(op.Spec)); err != nil {
			e.logger.Error("creating table failed, continuing", "table", op.Table, "error", err)
			continue
		}
		e.logger.Info("created table", "table", op.Table)
		applied++
	}

	byTable := map[string][]Operation{}
	var tables []string
	for _, op := range plan.Ops {
		if op.Kind != OpAddColumn {
			continue
		}
		if _, seen := byTable[op.Table]; !seen {
			tables = append(tables, op.Table)
		}
		byTable[op.Table] = append(byTable[op.Table], op)
	}

	for _, table := range tables {
		n, err := e.applyColumnUnit(ctx, table, byTable[table])
		applied += n
		if err != nil {
			e.logger.Error("column additions failed for table, continuing with remaining tables",
				"table", table, "error", err)
		}
	}

	return applied
}

// applyColumnUnit adds the missing columns of one table inside a transaction.
func (e *Engine) applyColumnUnit(ctx context.Context, table string, ops []Operation) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	applied := 0
	for _, op := range ops {
		var exists int
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT 1 FROM pragma_table_info('%s') WHERE name = ?", table),
			op.Column.Name).Scan(&exists)
		if err == nil {
			// Column already exists, likely applied by a concurrent worker
			e.logger.Debug("column already exists, skipping", "table", table, "column", op.Column.Name)
			continue
		}

		if _, err := tx.ExecContext(ctx, addColumnSQL(table, op.Column)); err != nil {
			if isDuplicateColumnError(err) {
				e.logger.Debug("column already exists, skipping", "table", table, "column", op.Column.Name)
				continue
			}
			return 0, fmt.Errorf("adding column %s.%s: %w", table, op.Column.Name, err)
		}
		e.logger.Info("added column", "table", table, "column", op.Column.Name)
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return applied, nil
}

// isDuplicateColumnError checks for SQLite's duplicate column message.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// applyIndexes creates the supporting indexes. All statements are IF NOT
// EXISTS, so this runs on every pass.
func (e *Engine) applyIndexes(ctx context.Context) {
	for _, ddl := range indexDDL {
		if _, err := e.db.ExecContext(ctx, ddl); err != nil {
			e.logger.Warn("creating index failed, continuing", "error", err)
		}
	}
}
