package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/opscart/personalize-monitor/pkg/models"
)

//go:embed migrations/*.sql
var postgresFS embed.FS

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to dsn and applies the schema
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema, err := postgresFS.ReadFile("migrations/001_postgres_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// SavePass stores the report header, the full report as JSON and one row per
// decision, in a single transaction
func (s *PostgresStore) SavePass(ctx context.Context, report *models.PassReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode pass report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO passes (
			id, started_at, finished_at, regions, resources_discovered,
			resources_evaluated, alarms_created, events_published,
			dashboard_rebuild, error_count, report
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`,
		report.ID, report.StartedAt, report.FinishedAt, strings.Join(report.Regions, ","),
		report.ResourcesDiscovered, report.ResourcesEvaluated, report.AlarmsCreated,
		report.EventsPublished, report.DashboardRebuild, report.ErrorTotal(), body,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pass %s: %w", report.ID, err)
	}

	for _, result := range report.Results {
		rec := DecisionRecord(report.ID, result)
		if rec == nil {
			continue
		}
		if err := insertDecision(ctx, tx, rec); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDecision(ctx context.Context, db execer, rec *models.DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var utilization sql.NullFloat64
	if rec.Utilization != nil {
		utilization = sql.NullFloat64{Float64: *rec.Utilization, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO decisions (
			id, pass_id, resource_arn, resource_kind, region, type,
			current_min_rate, new_rate, average_rate, utilization,
			age_hours, reason, event_published, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID, rec.PassID, rec.ResourceARN, string(rec.ResourceKind), rec.Region, string(rec.Type),
		rec.CurrentMinRate, rec.NewRate, rec.AverageRate, utilization,
		rec.AgeHours, rec.Reason, rec.EventPublished, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision for %s: %w", rec.ResourceARN, err)
	}
	return nil
}

// ListDecisions returns stored decisions, newest first
func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]*models.DecisionRecord, error) {
	query, args := listDecisionsQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.DecisionRecord
	for rows.Next() {
		var (
			rec         models.DecisionRecord
			kind, typ   string
			utilization sql.NullFloat64
		)
		if err := rows.Scan(
			&rec.ID, &rec.PassID, &rec.ResourceARN, &kind, &rec.Region, &typ,
			&rec.CurrentMinRate, &rec.NewRate, &rec.AverageRate, &utilization,
			&rec.AgeHours, &rec.Reason, &rec.EventPublished, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.ResourceKind = models.ResourceKind(kind)
		rec.Type = models.DecisionType(typ)
		if utilization.Valid {
			rec.Utilization = &utilization.Float64
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func listDecisionsQuery(filter DecisionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.ResourceARN != "" {
		args = append(args, filter.ResourceARN)
		where = append(where, fmt.Sprintf("resource_arn = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.ActionableOnly {
		args = append(args, string(models.NoAction))
		where = append(where, fmt.Sprintf("type <> $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := `
		SELECT id, pass_id, resource_arn, resource_kind, region, type,
			current_min_rate, new_rate, average_rate, utilization,
			age_hours, reason, event_published, created_at
		FROM decisions`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\n\t\tORDER BY created_at DESC\n\t\tLIMIT $%d", len(args))
	return query, args
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
