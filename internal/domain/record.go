package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowRecord — зарегистрированный workflow.
//
// Один workflow может иметь множество версий документа (WorkflowVersion).
// В хранилище попадают только версии, прошедшие валидацию.
type WorkflowRecord struct {
	// ID — уникальный идентификатор.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя (например, "qaoa-maxcut").
	Name string `json:"name"`

	// CreatedAt — время регистрации.
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowVersion — валидная версия документа workflow.
type WorkflowVersion struct {
	// WorkflowID — ссылка на WorkflowRecord.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Version — номер версии (1, 2, 3, ...), автоинкремент.
	Version int `json:"version"`

	// Source — исходный текст документа.
	// Хранится как есть, Workflow восстанавливается повторным разбором.
	Source string `json:"source"`

	// StepCount — количество шагов в документе.
	StepCount int `json:"step_count"`

	// Order — порядок шагов с учётом зависимостей.
	Order []string `json:"order"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}
