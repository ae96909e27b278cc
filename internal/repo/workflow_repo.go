package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Stepgraph/internal/domain"
)

// WorkflowRepo — репозиторий для работы с workflows и workflow_versions.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// --- Workflow CRUD ---

// Create регистрирует новый workflow.
// Имя уникально: повтор возвращает ErrAlreadyExists.
func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.WorkflowRecord) error {
	query := `
		INSERT INTO workflows (id, name, created_at)
		VALUES ($1, $2, $3)
	`
	_, err := r.pool.Exec(ctx, query, wf.ID, wf.Name, wf.CreatedAt)
	if pgCode(err) == codeUniqueViolation {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error) {
	query := `
		SELECT id, name, created_at
		FROM workflows
		WHERE id = $1
	`
	var wf domain.WorkflowRecord
	err := r.pool.QueryRow(ctx, query, id).Scan(&wf.ID, &wf.Name, &wf.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow by id: %w", err)
	}
	return &wf, nil
}

// GetByName возвращает workflow по имени.
func (r *WorkflowRepo) GetByName(ctx context.Context, name string) (*domain.WorkflowRecord, error) {
	query := `
		SELECT id, name, created_at
		FROM workflows
		WHERE name = $1
	`
	var wf domain.WorkflowRecord
	err := r.pool.QueryRow(ctx, query, name).Scan(&wf.ID, &wf.Name, &wf.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow by name: %w", err)
	}
	return &wf, nil
}

// List возвращает все workflows, новые первыми.
func (r *WorkflowRepo) List(ctx context.Context) ([]domain.WorkflowRecord, error) {
	query := `
		SELECT id, name, created_at
		FROM workflows
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	workflows := make([]domain.WorkflowRecord, 0)
	for rows.Next() {
		var wf domain.WorkflowRecord
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// Delete удаляет workflow (каскадно удалит versions).
func (r *WorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- WorkflowVersion CRUD ---

const versionColumns = `workflow_id, version, source, step_count, step_order, created_at`

// CreateVersion сохраняет новую версию документа.
// Номер версии вычисляется в той же вставке: MAX(version) + 1.
func (r *WorkflowRepo) CreateVersion(ctx context.Context, v *domain.WorkflowVersion) error {
	order := v.Order
	if order == nil {
		order = []string{}
	}

	query := `
		INSERT INTO workflow_versions (workflow_id, version, source, step_count, step_order, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, NOW()
		FROM workflow_versions
		WHERE workflow_id = $1
		RETURNING version, created_at
	`
	err := r.pool.QueryRow(ctx, query, v.WorkflowID, v.Source, v.StepCount, order).
		Scan(&v.Version, &v.CreatedAt)

	switch pgCode(err) {
	case codeForeignKeyViolation:
		return ErrNotFound
	case codeUniqueViolation:
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert workflow version: %w", err)
	}
	v.Order = order
	return nil
}

// GetVersion возвращает конкретную версию workflow.
func (r *WorkflowRepo) GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE workflow_id = $1 AND version = $2
	`
	v, err := scanVersion(r.pool.QueryRow(ctx, query, workflowID, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow version: %w", err)
	}
	return v, nil
}

// GetLatestVersion возвращает последнюю версию workflow.
func (r *WorkflowRepo) GetLatestVersion(ctx context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	v, err := scanVersion(r.pool.QueryRow(ctx, query, workflowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest workflow version: %w", err)
	}
	return v, nil
}

// ListVersions возвращает все версии workflow, новые первыми.
func (r *WorkflowRepo) ListVersions(ctx context.Context, workflowID uuid.UUID) ([]domain.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version DESC
	`
	return r.queryVersions(ctx, query, workflowID)
}

// ListLatestVersions возвращает последнюю версию каждого workflow.
func (r *WorkflowRepo) ListLatestVersions(ctx context.Context) ([]domain.WorkflowVersion, error) {
	query := `SELECT DISTINCT ON (workflow_id) ` + versionColumns + `
		FROM workflow_versions
		ORDER BY workflow_id, version DESC
	`
	return r.queryVersions(ctx, query)
}

func (r *WorkflowRepo) queryVersions(ctx context.Context, query string, args ...any) ([]domain.WorkflowVersion, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow versions: %w", err)
	}
	defer rows.Close()

	versions := make([]domain.WorkflowVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow version: %w", err)
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// scanVersion читает строку workflow_versions (pgx.Row или pgx.Rows).
func scanVersion(row pgx.Row) (*domain.WorkflowVersion, error) {
	var v domain.WorkflowVersion
	if err := row.Scan(
		&v.WorkflowID,
		&v.Version,
		&v.Source,
		&v.StepCount,
		&v.Order,
		&v.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &v, nil
}
