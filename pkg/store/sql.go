// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// SQLStore keeps runs in PostgreSQL, MySQL or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
	table   string
	owned   bool
}

// Open connects to the configured database and prepares the schema.
// The returned store closes the connection on Close.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*SQLStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids "database is locked".
	if cfg.Dialect() == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Dialect() == "sqlite" {
		if _, err := db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}

	s, err := New(ctx, db, cfg.Dialect(), cfg.Table)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an open database. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, dialect, table string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
	if table == "" {
		table = "refinery_runs"
	}

	s := &SQLStore{db: db, dialect: dialect, table: table}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) schema() []string {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id VARCHAR(255) PRIMARY KEY,
    task_id VARCHAR(255) NOT NULL,
    reason VARCHAR(64) NOT NULL,
    succeeded INTEGER NOT NULL,
    final_score INTEGER,
    iteration_count INTEGER NOT NULL,
    retries INTEGER NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    report %s NOT NULL`, s.table, s.textType())

	// MySQL has no CREATE INDEX IF NOT EXISTS; declare indexes inline.
	if s.dialect == "mysql" {
		return []string{create + fmt.Sprintf(`,
    INDEX idx_%[1]s_started_at (started_at),
    INDEX idx_%[1]s_reason (reason)
)`, s.table)}
	}
	return []string{
		create + "\n)",
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_started_at ON %[1]s(started_at)", s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_reason ON %[1]s(reason)", s.table),
	}
}

func (s *SQLStore) textType() string {
	if s.dialect == "mysql" {
		return "LONGTEXT"
	}
	return "TEXT"
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const columns = "run_id, task_id, reason, succeeded, final_score, iteration_count, retries, started_at, finished_at"

func (s *SQLStore) upsert() string {
	insert := fmt.Sprintf("INSERT INTO %s (%s, report) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, columns)
	updated := []string{"task_id", "reason", "succeeded", "final_score", "iteration_count", "retries", "started_at", "finished_at", "report"}

	sets := make([]string, len(updated))
	for i, col := range updated {
		if s.dialect == "mysql" {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		} else {
			sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
		}
	}

	if s.dialect == "mysql" {
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return s.rebind(insert + " ON CONFLICT (run_id) DO UPDATE SET " + strings.Join(sets, ", "))
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, res *refine.RunResult) error {
	report := export.NewReport(res)
	if report.RunID == "" {
		return fmt.Errorf("run ID is required")
	}

	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	var finalScore sql.NullInt64
	if report.FinalScore != nil {
		finalScore = sql.NullInt64{Int64: int64(*report.FinalScore), Valid: true}
	}
	succeeded := 0
	if report.Succeeded {
		succeeded = 1
	}

	_, err = s.db.ExecContext(ctx, s.upsert(),
		report.RunID, report.Task.ID, string(report.Reason), succeeded, finalScore,
		report.IterationCount, report.Retries,
		report.StartedAt.UTC(), report.FinishedAt.UTC(), string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", report.RunID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, runID string) (*export.Report, error) {
	query := s.rebind(fmt.Sprintf("SELECT report FROM %s WHERE run_id = ?", s.table))

	var doc string
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}

	var report export.Report
	if err := json.Unmarshal([]byte(doc), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &report, nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", columns, s.table)
	var args []any
	if opts.Reason != "" {
		query += " WHERE reason = ?"
		args = append(args, string(opts.Reason))
	}
	query += " ORDER BY started_at DESC, run_id ASC LIMIT ? OFFSET ?"
	args = append(args, opts.limit(), max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum        Summary
			reason     string
			succeeded  int
			finalScore sql.NullInt64
		)
		if err := rows.Scan(&sum.RunID, &sum.TaskID, &reason, &succeeded, &finalScore,
			&sum.IterationCount, &sum.Retries, &sum.StartedAt, &sum.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.Reason = refine.Reason(reason)
		sum.Succeeded = succeeded != 0
		if finalScore.Valid {
			v := int(finalScore.Int64)
			sum.FinalScore = &v
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the database when the store opened it.
func (s *SQLStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
