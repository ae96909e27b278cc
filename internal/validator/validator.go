package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Stepgraph/internal/domain"
	"github.com/shaiso/Stepgraph/internal/engine"
	"github.com/shaiso/Stepgraph/internal/mq"
	"github.com/shaiso/Stepgraph/internal/repo"
	"github.com/shaiso/Stepgraph/internal/telemetry"
)

// Значения по умолчанию.
const (
	defaultPrefetch = 10
)

// cronParser — стандартные 5 полей плюс дескрипторы (@hourly, @every 1h).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Store — хранилище версий workflow (реализуется repo.WorkflowRepo).
type Store interface {
	GetByName(ctx context.Context, name string) (*domain.WorkflowRecord, error)
	CreateVersion(ctx context.Context, v *domain.WorkflowVersion) error
	GetLatestVersion(ctx context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error)
	ListLatestVersions(ctx context.Context) ([]domain.WorkflowVersion, error)
}

// Publisher — получатель событий о результате валидации (реализуется mq.Publisher).
type Publisher interface {
	PublishValidated(ctx context.Context, payload mq.ValidatedPayload) error
	PublishRejected(ctx context.Context, payload mq.RejectedPayload) error
}

// Validator — сервис валидации документов из очереди.
//
// Validator:
//   - Получает документы из workflows.submitted
//   - Разбирает и валидирует их
//   - Сохраняет валидные версии и публикует workflow.validated
//   - Публикует workflow.rejected со списком нарушений
//   - По расписанию перепроверяет последние сохранённые версии
type Validator struct {
	store     Store
	publisher Publisher
	conn      *mq.Connection

	opts      engine.Options
	prefetch  int
	auditCron string

	consumer  *mq.Consumer
	scheduler *cron.Cron

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Validator.
type Config struct {
	Store     Store
	Publisher Publisher // опционально: без него события не публикуются

	// Conn — соединение RabbitMQ; nil отключает consumer.
	Conn *mq.Connection

	Options  engine.Options
	Prefetch int

	// AuditCron — расписание перепроверки; пусто отключает аудит.
	AuditCron string

	Logger *slog.Logger
}

// New создаёт новый Validator.
func New(cfg Config) (*Validator, error) {
	if cfg.AuditCron != "" {
		if _, err := cronParser.Parse(cfg.AuditCron); err != nil {
			return nil, fmt.Errorf("invalid audit cron %q: %w", cfg.AuditCron, err)
		}
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := cfg.Options
	if opts.Policy == "" {
		opts = engine.DefaultOptions()
	}

	return &Validator{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		conn:      cfg.Conn,
		opts:      opts,
		prefetch:  prefetch,
		auditCron: cfg.AuditCron,
		logger:    logger,
	}, nil
}

// Start запускает consumer и расписание аудита.
func (v *Validator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	v.cancelFunc = cancel

	v.logger.Info("starting validator",
		"policy", v.opts.Policy,
		"prefetch", v.prefetch,
		"audit_cron", v.auditCron,
	)

	if v.conn != nil {
		v.consumer = mq.NewConsumer(v.conn, v.logger, mq.ConsumerConfig{
			Queue:    mq.QueueSubmitted,
			Handler:  v.HandleSubmitted,
			Prefetch: v.prefetch,
		})

		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			if err := v.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				v.logger.Error("consumer stopped", "error", err)
			}
		}()
	}

	if v.auditCron != "" {
		v.scheduler = cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
		_, err := v.scheduler.AddFunc(v.auditCron, func() {
			if _, err := v.Audit(ctx); err != nil {
				v.logger.Error("audit failed", "error", err)
			}
		})
		if err != nil {
			cancel()
			return fmt.Errorf("schedule audit: %w", err)
		}
		v.scheduler.Start()
	}

	return nil
}

// Stop останавливает consumer и ждёт завершения текущего аудита.
func (v *Validator) Stop() {
	v.logger.Info("stopping validator")

	if v.cancelFunc != nil {
		v.cancelFunc()
	}
	if v.consumer != nil {
		v.consumer.Stop()
	}
	if v.scheduler != nil {
		<-v.scheduler.Stop().Done()
	}

	v.wg.Wait()
	v.logger.Info("validator stopped")
}

// HandleSubmitted обрабатывает сообщение workflow.submitted.
//
// Невалидный документ — штатный результат: событие rejected публикуется,
// сообщение подтверждается. Ошибки хранилища и публикации возвращаются,
// чтобы сообщение было доставлено повторно; повторная доставка не
// сохраняет версию второй раз.
func (v *Validator) HandleSubmitted(ctx context.Context, d *mq.Delivery) error {
	logger := telemetry.WithMessageID(v.logger, d.Message.ID)

	payload, err := mq.ParsePayload[mq.SubmittedPayload](&d.Message)
	if err != nil {
		return mq.Reject(fmt.Errorf("parse submitted payload: %w", err))
	}

	opts := v.opts
	if payload.Policy != "" {
		policy, err := engine.ParsePolicy(payload.Policy)
		if err != nil {
			return v.reject(ctx, mq.RejectedPayload{Workflow: payload.Workflow, Error: err.Error()})
		}
		opts.Policy = policy
	}

	report := Check([]byte(payload.Source), opts, "validator")
	name := payload.Workflow
	if name == "" {
		name = report.Workflow
	}
	logger = telemetry.WithWorkflow(logger, name)

	if !report.Valid {
		logger.Info("workflow rejected", "error", report.Err)
		return v.reject(ctx, mq.RejectedPayload{
			Workflow:   name,
			Error:      report.Err.Error(),
			Violations: report.Violations,
		})
	}

	validated := mq.ValidatedPayload{
		Workflow:  name,
		StepCount: report.StepCount,
		Order:     report.Order,
		Levels:    report.Levels,
	}

	// Документ без имени зарегистрированного workflow только проверяется
	if payload.Workflow != "" {
		record, err := v.store.GetByName(ctx, payload.Workflow)
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("workflow is not registered")
			return v.reject(ctx, mq.RejectedPayload{
				Workflow: payload.Workflow,
				Error:    fmt.Sprintf("workflow %q is not registered", payload.Workflow),
			})
		}
		if err != nil {
			return fmt.Errorf("get workflow: %w", err)
		}

		stored, err := v.storeVersion(ctx, record.ID, payload.Source, report, d.Redelivered)
		if err != nil {
			return err
		}
		validated.WorkflowID = stored.WorkflowID
		validated.Version = stored.Version
	}

	logger.Info("workflow validated", "steps", report.StepCount, "version", validated.Version)

	if v.publisher == nil {
		return nil
	}
	if err := v.publisher.PublishValidated(ctx, validated); err != nil {
		return fmt.Errorf("publish validated: %w", err)
	}
	return nil
}

// storeVersion сохраняет новую версию. При повторной доставке версия
// с тем же исходным текстом уже могла быть сохранена до сбоя публикации:
// тогда возвращается она.
func (v *Validator) storeVersion(ctx context.Context, workflowID uuid.UUID, source string, report *Report, redelivered bool) (*domain.WorkflowVersion, error) {
	if redelivered {
		latest, err := v.store.GetLatestVersion(ctx, workflowID)
		switch {
		case err == nil && latest.Source == source:
			v.logger.Info("version already stored", "workflow_id", workflowID, "version", latest.Version)
			return latest, nil
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return nil, fmt.Errorf("get latest version: %w", err)
		}
	}

	stored := newVersion(workflowID, source, report)
	if err := v.store.CreateVersion(ctx, stored); err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}
	return stored, nil
}

// newVersion собирает версию для сохранения.
func newVersion(workflowID uuid.UUID, source string, report *Report) *domain.WorkflowVersion {
	return &domain.WorkflowVersion{
		WorkflowID: workflowID,
		Source:     source,
		StepCount:  report.StepCount,
		Order:      report.Order,
	}
}

// reject публикует workflow.rejected.
func (v *Validator) reject(ctx context.Context, payload mq.RejectedPayload) error {
	if v.publisher == nil {
		return nil
	}
	if err := v.publisher.PublishRejected(ctx, payload); err != nil {
		return fmt.Errorf("publish rejected: %w", err)
	}
	return nil
}

// Audit перепроверяет последнюю версию каждого workflow по текущей политике.
// Возвращает количество версий, которые больше не проходят валидацию.
func (v *Validator) Audit(ctx context.Context) (int, error) {
	versions, err := v.store.ListLatestVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list latest versions: %w", err)
	}

	rejected := 0
	for _, ver := range versions {
		if err := ctx.Err(); err != nil {
			return rejected, err
		}

		report := Check([]byte(ver.Source), v.opts, "audit")
		if report.Valid {
			continue
		}

		rejected++
		v.logger.Warn("stored version no longer valid",
			"workflow_id", ver.WorkflowID,
			"version", ver.Version,
			"error", report.Err,
		)

		err := v.reject(ctx, mq.RejectedPayload{
			WorkflowID: ver.WorkflowID,
			Workflow:   report.Workflow,
			Version:    ver.Version,
			Error:      report.Err.Error(),
			Violations: report.Violations,
		})
		if err != nil {
			v.logger.Warn("failed to publish audit result", "error", err)
		}
	}

	v.logger.Info("audit finished", "checked", len(versions), "rejected", rejected)
	return rejected, nil
}
