package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/promoter/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping verifies the database connection is still usable. Readiness
// checks call this on every probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", "failed to ping database", ErrConnectionFailed)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Types
// =============================================================================

// templateRow represents a template row in the database.
type templateRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Slug        string `db:"slug"`
	Description string `db:"description"`
	ContentRef  string `db:"content_ref"`
	State       string `db:"state"`
	Category    string `db:"category"`
	SubmittedBy string `db:"submitted_by"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

// transitionRow represents a transition record row in the database.
type transitionRow struct {
	ID         string `db:"id"`
	TemplateID string `db:"template_id"`
	FromState  string `db:"from_state"`
	ToState    string `db:"to_state"`
	Actor      string `db:"actor"`
	Outcome    string `db:"outcome"`
	Reason     string `db:"reason"`
	Detail     string `db:"detail"`
	CreatedAt  string `db:"created_at"`
}

// =============================================================================
// Store Methods
// =============================================================================

func (s *SQLiteStore) CreateTemplate(ctx context.Context, template *domain.Template) error {
	return createTemplate(ctx, s.db, template)
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	return getTemplate(ctx, s.db, id)
}

func (s *SQLiteStore) ListByState(ctx context.Context, state domain.LifecycleState, opts ListOptions) ([]domain.Template, error) {
	return listByStates(ctx, s.db, []domain.LifecycleState{state}, opts)
}

func (s *SQLiteStore) ListByStates(ctx context.Context, states []domain.LifecycleState, opts ListOptions) ([]domain.Template, error) {
	return listByStates(ctx, s.db, states, opts)
}

func (s *SQLiteStore) ApplyTransition(ctx context.Context, template *domain.Template, record domain.TransitionRecord) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.ApplyTransition(ctx, template, record)
	})
}

func (s *SQLiteStore) AppendTransition(ctx context.Context, record domain.TransitionRecord) error {
	return appendTransition(ctx, s.db, record)
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, templateID string) ([]domain.TransitionRecord, error) {
	return listTransitions(ctx, s.db, templateID)
}

func (s *SQLiteStore) TransitionStats(ctx context.Context) (*TransitionStats, error) {
	return transitionStats(ctx, s.db)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateTemplate(ctx context.Context, template *domain.Template) error {
	return createTemplate(ctx, s.tx, template)
}

func (s *txSQLiteStore) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	return getTemplate(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListByState(ctx context.Context, state domain.LifecycleState, opts ListOptions) ([]domain.Template, error) {
	return listByStates(ctx, s.tx, []domain.LifecycleState{state}, opts)
}

func (s *txSQLiteStore) ListByStates(ctx context.Context, states []domain.LifecycleState, opts ListOptions) ([]domain.Template, error) {
	return listByStates(ctx, s.tx, states, opts)
}

func (s *txSQLiteStore) ApplyTransition(ctx context.Context, template *domain.Template, record domain.TransitionRecord) error {
	if err := updateTemplateState(ctx, s.tx, template); err != nil {
		return err
	}
	return appendTransition(ctx, s.tx, record)
}

func (s *txSQLiteStore) AppendTransition(ctx context.Context, record domain.TransitionRecord) error {
	return appendTransition(ctx, s.tx, record)
}

func (s *txSQLiteStore) ListTransitions(ctx context.Context, templateID string) ([]domain.TransitionRecord, error) {
	return listTransitions(ctx, s.tx, templateID)
}

func (s *txSQLiteStore) TransitionStats(ctx context.Context) (*TransitionStats, error) {
	return transitionStats(ctx, s.tx)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Ping(ctx context.Context) error {
	// The transaction holds a live connection
	return nil
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createTemplate(ctx context.Context, exec executor, template *domain.Template) error {
	query := `
		INSERT INTO templates (
			id, name, slug, description, content_ref, state, category,
			submitted_by, created_at, updated_at
		) VALUES (
			:id, :name, :slug, :description, :content_ref, :state, :category,
			:submitted_by, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":           template.ID,
		"name":         template.Name,
		"slug":         template.Slug,
		"description":  template.Description,
		"content_ref":  template.ContentRef,
		"state":        string(template.State),
		"category":     string(template.Category),
		"submitted_by": template.SubmittedBy,
		"created_at":   template.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   template.UpdatedAt.Format(time.RFC3339Nano),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: templates.id") {
			return NewStoreError("CreateTemplate", "template", template.ID, "template with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateTemplate", "template", template.ID, err.Error(), err)
	}

	return nil
}

func getTemplate(ctx context.Context, exec executor, id string) (*domain.Template, error) {
	query := `SELECT * FROM templates WHERE id = ?`

	var row templateRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetTemplate", "template", id, "template not found", ErrNotFound)
		}
		return nil, NewStoreError("GetTemplate", "template", id, err.Error(), err)
	}

	return rowToTemplate(&row), nil
}

// updateTemplateState persists the current-state pointer (state, category,
// updated_at). All other template fields are immutable after submission.
func updateTemplateState(ctx context.Context, exec executor, template *domain.Template) error {
	query := `
		UPDATE templates SET
			state = :state,
			category = :category,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":         template.ID,
		"state":      string(template.State),
		"category":   string(template.Category),
		"updated_at": template.UpdatedAt.Format(time.RFC3339Nano),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateTemplateState", "template", template.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateTemplateState", "template", template.ID, "template not found", ErrNotFound)
	}

	return nil
}

func appendTransition(ctx context.Context, exec executor, record domain.TransitionRecord) error {
	query := `
		INSERT INTO transitions (
			id, template_id, from_state, to_state, actor, outcome, reason, detail, created_at
		) VALUES (
			:id, :template_id, :from_state, :to_state, :actor, :outcome, :reason, :detail, :created_at
		)`

	row := map[string]any{
		"id":          record.ID,
		"template_id": record.TemplateID,
		"from_state":  string(record.FromState),
		"to_state":    string(record.ToState),
		"actor":       record.Actor,
		"outcome":     string(record.Outcome),
		"reason":      record.Reason,
		"detail":      record.Detail,
		"created_at":  record.CreatedAt.Format(time.RFC3339Nano),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("AppendTransition", "transition", record.ID, "template not found", ErrNotFound)
		}
		return NewStoreError("AppendTransition", "transition", record.ID, err.Error(), err)
	}

	return nil
}

func listTransitions(ctx context.Context, exec executor, templateID string) ([]domain.TransitionRecord, error) {
	query := `SELECT * FROM transitions WHERE template_id = ? ORDER BY created_at ASC`

	var rows []transitionRow
	err := exec.SelectContext(ctx, &rows, query, templateID)
	if err != nil {
		return nil, NewStoreError("ListTransitions", "transition", templateID, err.Error(), err)
	}

	records := make([]domain.TransitionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToTransition(&row))
	}

	return records, nil
}

func listByStates(ctx context.Context, exec executor, states []domain.LifecycleState, opts ListOptions) ([]domain.Template, error) {
	opts = opts.Normalize()

	args := make([]any, 0, len(states)+2)
	placeholders := make([]string, 0, len(states))
	for _, s := range states {
		placeholders = append(placeholders, "?")
		args = append(args, string(s))
	}
	args = append(args, opts.Limit, opts.Offset)

	query := fmt.Sprintf(
		`SELECT * FROM templates WHERE state IN (%s) ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		strings.Join(placeholders, ", "),
	)

	var rows []templateRow
	err := exec.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, NewStoreError("ListByStates", "template", "", err.Error(), err)
	}

	templates := make([]domain.Template, 0, len(rows))
	for _, row := range rows {
		templates = append(templates, *rowToTemplate(&row))
	}

	return templates, nil
}

func transitionStats(ctx context.Context, exec executor) (*TransitionStats, error) {
	stats := &TransitionStats{
		RejectedByReason: make(map[string]int),
		TemplatesByState: make(map[string]int),
	}

	type countRow struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	var outcomes []countRow
	err := exec.SelectContext(ctx, &outcomes,
		`SELECT outcome AS key, COUNT(*) AS count FROM transitions GROUP BY outcome`)
	if err != nil {
		return nil, NewStoreError("TransitionStats", "transition", "", err.Error(), err)
	}
	for _, row := range outcomes {
		switch domain.TransitionOutcome(row.Key) {
		case domain.OutcomeApplied:
			stats.Applied = row.Count
		case domain.OutcomeRejected:
			stats.Rejected = row.Count
		}
	}

	var reasons []countRow
	err = exec.SelectContext(ctx, &reasons,
		`SELECT reason AS key, COUNT(*) AS count FROM transitions WHERE outcome = ? GROUP BY reason`,
		string(domain.OutcomeRejected))
	if err != nil {
		return nil, NewStoreError("TransitionStats", "transition", "", err.Error(), err)
	}
	for _, row := range reasons {
		stats.RejectedByReason[row.Key] = row.Count
	}

	var states []countRow
	err = exec.SelectContext(ctx, &states,
		`SELECT state AS key, COUNT(*) AS count FROM templates GROUP BY state`)
	if err != nil {
		return nil, NewStoreError("TransitionStats", "template", "", err.Error(), err)
	}
	for _, row := range states {
		stats.TemplatesByState[row.Key] = row.Count
	}

	return stats, nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

// rowToTemplate converts a database row to a domain.Template.
func rowToTemplate(row *templateRow) *domain.Template {
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)

	return &domain.Template{
		ID:          row.ID,
		Name:        row.Name,
		Slug:        row.Slug,
		Description: row.Description,
		ContentRef:  row.ContentRef,
		State:       domain.LifecycleState(row.State),
		Category:    domain.Category(row.Category),
		SubmittedBy: row.SubmittedBy,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// rowToTransition converts a database row to a domain.TransitionRecord.
func rowToTransition(row *transitionRow) domain.TransitionRecord {
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)

	return domain.TransitionRecord{
		ID:         row.ID,
		TemplateID: row.TemplateID,
		FromState:  domain.LifecycleState(row.FromState),
		ToState:    domain.LifecycleState(row.ToState),
		Actor:      row.Actor,
		Outcome:    domain.TransitionOutcome(row.Outcome),
		Reason:     row.Reason,
		Detail:     row.Detail,
		CreatedAt:  createdAt,
	}
}
