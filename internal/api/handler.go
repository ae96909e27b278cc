package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Stepgraph/internal/domain"
	"github.com/shaiso/Stepgraph/internal/engine"
	"github.com/shaiso/Stepgraph/internal/mq"
)

// WorkflowStore — хранилище workflows и их версий (реализуется repo.WorkflowRepo).
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.WorkflowRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error)
	List(ctx context.Context) ([]domain.WorkflowRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CreateVersion(ctx context.Context, v *domain.WorkflowVersion) error
	GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error)
	ListVersions(ctx context.Context, workflowID uuid.UUID) ([]domain.WorkflowVersion, error)
}

// EventPublisher — публикация событий (реализуется mq.Publisher).
type EventPublisher interface {
	PublishSubmitted(ctx context.Context, payload mq.SubmittedPayload) error
	PublishValidated(ctx context.Context, payload mq.ValidatedPayload) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	store     WorkflowStore
	publisher EventPublisher
	opts      engine.Options
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Store WorkflowStore

	// Publisher — необязателен: без него события не публикуются,
	// а /submit отвечает 503.
	Publisher EventPublisher

	// Options — политика валидации по умолчанию.
	Options engine.Options

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := cfg.Options
	if opts.Policy == "" {
		opts = engine.DefaultOptions()
	}
	return &Handler{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		opts:      opts,
		logger:    logger,
	}
}

// options возвращает параметры валидации с учётом политики из запроса.
func (h *Handler) options(policy string) (engine.Options, error) {
	opts := h.opts
	if policy == "" {
		return opts, nil
	}
	p, err := engine.ParsePolicy(policy)
	if err != nil {
		return opts, err
	}
	opts.Policy = p
	return opts, nil
}
