// organizations.go — административные операции над организациями:
// планы, приоритеты, модерация, ограничения, удаление и bulk-операции.
// Каждая мутация документируется в журнале аудита (best-effort) и
// завершается реиндексацией затронутых сайтов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
)

// Prometheus-метрики bulk-операций.
var (
	bulkOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_bulk_operations_total",
		Help: "Общее количество bulk-операций над организациями.",
	}, []string{"operation"})
)

// Actor — администратор, выполняющий операцию (для журнала аудита).
type Actor struct {
	// ID — идентификатор администратора
	ID string
	// Role — роль администратора
	Role string
}

// CreateOrganizationInput — данные создания организации.
type CreateOrganizationInput struct {
	// Name — название организации
	Name string
	// PlanType — начальный план (по умолчанию FREE)
	PlanType model.PlanType
	// PaidTermEndAt — конец оплаченного периода (обязателен для платных планов)
	PaidTermEndAt *time.Time
}

// PlanChange — изменение плана организации.
type PlanChange struct {
	// PlanType — новый план
	PlanType model.PlanType
	// PaidTermEndAt — конец оплаченного периода (nil для FREE)
	PaidTermEndAt *time.Time
	// SupportTier — уровень поддержки
	SupportTier model.SupportTier
	// PriorityOverride — числовой override (только ENTERPRISE)
	PriorityOverride *int
}

// BulkResult — итог bulk-операции: БД всегда отражает мутацию целиком,
// индекс может отставать — ошибки реиндексации возвращаются для
// видимости, без автоматических повторов.
type BulkResult struct {
	// Updated — количество обновлённых организаций
	Updated int
	// ReindexFailures — ошибки реиндексации отдельных сайтов
	ReindexFailures []ReindexFailure
}

// OrganizationService — административные операции над организациями.
type OrganizationService struct {
	orgRepo   repository.OrganizationRepository
	trialRepo repository.TrialRepository
	indexer   *IndexerService
	audit     *AuditService
	logger    *slog.Logger

	// inTx выполняет fn над транзакционным репозиторием организаций.
	// Переопределяется в тестах.
	inTx func(ctx context.Context, fn func(repo repository.OrganizationRepository) error) error

	// now переопределяется в тестах
	now func() time.Time
}

// NewOrganizationService создаёт сервис организаций.
func NewOrganizationService(
	orgRepo repository.OrganizationRepository,
	trialRepo repository.TrialRepository,
	txRunner *repository.TxRunner,
	indexer *IndexerService,
	audit *AuditService,
	logger *slog.Logger,
) *OrganizationService {
	return &OrganizationService{
		orgRepo:   orgRepo,
		trialRepo: trialRepo,
		indexer:   indexer,
		audit:     audit,
		logger:    logger.With(slog.String("component", "organization_service")),
		inTx: func(ctx context.Context, fn func(repo repository.OrganizationRepository) error) error {
			return txRunner.RunInTx(ctx, func(tx pgx.Tx) error {
				return fn(repository.NewOrganizationRepository(tx))
			})
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create создаёт организацию. Новая организация всегда в статусе PENDING.
func (s *OrganizationService) Create(ctx context.Context, actor Actor, in CreateOrganizationInput) (*model.Organization, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: название организации обязательно", ErrValidation)
	}
	if in.PlanType == "" {
		in.PlanType = model.PlanFree
	}
	if !in.PlanType.Valid() {
		return nil, fmt.Errorf("%w: неизвестный план %q", ErrValidation, in.PlanType)
	}

	now := s.now()
	org := &model.Organization{
		ID:             uuid.New().String(),
		Name:           in.Name,
		PlanType:       in.PlanType,
		PlanStatus:     model.PlanStatusActive,
		ManualPriority: model.PriorityNormal,
		Status:         model.ApprovalPending,
		SupportTier:    model.SupportNone,
	}
	if in.PlanType != model.PlanFree {
		if in.PaidTermEndAt == nil {
			return nil, fmt.Errorf("%w: платный план требует конца оплаченного периода", ErrValidation)
		}
		org.PlanStartAt = &now
		org.PaidTermEndAt = in.PaidTermEndAt
		org.SupportTier = model.SupportStandard
	}

	if err := s.orgRepo.Create(ctx, org); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("создание организации: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.create", Entity: "organization", TargetID: org.ID,
		Details:  fmt.Sprintf("создана организация %q, план %s", org.Name, org.PlanType),
		Snapshot: org,
	})

	s.logger.Info("Организация создана",
		slog.String("organization_id", org.ID),
		slog.String("plan_type", string(org.PlanType)),
	)
	return org, nil
}

// Get возвращает организацию по id.
func (s *OrganizationService) Get(ctx context.Context, id string) (*model.Organization, error) {
	org, err := s.orgRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("получение организации: %w", err)
	}
	return org, nil
}

// List возвращает организации с пагинацией.
func (s *OrganizationService) List(ctx context.Context, limit, offset int) ([]*model.Organization, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	orgs, err := s.orgRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("список организаций: %w", err)
	}
	return orgs, nil
}

// planUpdate превращает изменение плана в типизированную проекцию,
// соблюдая инвариант FREE: null-срок, статус ACTIVE, без override.
func planUpdate(change PlanChange, now time.Time) (repository.PlanUpdate, error) {
	if !change.PlanType.Valid() {
		return repository.PlanUpdate{}, fmt.Errorf("%w: неизвестный план %q", ErrValidation, change.PlanType)
	}
	if change.PriorityOverride != nil && change.PlanType != model.PlanEnterprise {
		return repository.PlanUpdate{}, fmt.Errorf("%w: priority override допустим только для ENTERPRISE", ErrValidation)
	}

	if change.PlanType == model.PlanFree {
		return repository.PlanUpdate{
			PlanType:    model.PlanFree,
			PlanStatus:  model.PlanStatusActive,
			SupportTier: model.SupportNone,
		}, nil
	}

	if change.PaidTermEndAt == nil {
		return repository.PlanUpdate{}, fmt.Errorf("%w: платный план требует конца оплаченного периода", ErrValidation)
	}
	tier := change.SupportTier
	if tier == "" {
		tier = model.SupportStandard
	}
	return repository.PlanUpdate{
		PlanType:         change.PlanType,
		PlanStatus:       model.PlanStatusActive,
		PlanStartAt:      &now,
		PaidTermEndAt:    change.PaidTermEndAt,
		SupportTier:      tier,
		PriorityOverride: change.PriorityOverride,
	}, nil
}

// UpdatePlan меняет план организации и реиндексирует её сайты.
func (s *OrganizationService) UpdatePlan(ctx context.Context, actor Actor, id string, change PlanChange) ([]ReindexFailure, error) {
	upd, err := planUpdate(change, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.orgRepo.UpdatePlan(ctx, id, upd); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("обновление плана: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.update_plan", Entity: "organization", TargetID: id,
		Details:  fmt.Sprintf("план изменён на %s", change.PlanType),
		Snapshot: upd,
	})

	return s.indexer.ReindexOrganization(ctx, id), nil
}

// SetManualPriority выставляет ручной приоритет организации.
func (s *OrganizationService) SetManualPriority(ctx context.Context, actor Actor, id string, priority model.PriorityLevel, expiresAt *time.Time) ([]ReindexFailure, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: неизвестный приоритет %q", ErrValidation, priority)
	}

	upd := repository.ManualPriorityUpdate{Priority: priority, ExpiresAt: expiresAt}
	if err := s.orgRepo.UpdateManualPriority(ctx, id, upd); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("обновление ручного приоритета: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.set_priority", Entity: "organization", TargetID: id,
		Details:  fmt.Sprintf("ручной приоритет %s", priority),
		Snapshot: upd,
	})

	return s.indexer.ReindexOrganization(ctx, id), nil
}

// SetRestricted выставляет или снимает флаг ограничения.
func (s *OrganizationService) SetRestricted(ctx context.Context, actor Actor, id string, restricted bool) ([]ReindexFailure, error) {
	if err := s.orgRepo.SetRestricted(ctx, id, restricted); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("обновление флага ограничения: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.set_restricted", Entity: "organization", TargetID: id,
		Details: fmt.Sprintf("is_restricted = %t", restricted),
	})

	return s.indexer.ReindexOrganization(ctx, id), nil
}

// SetApprovalStatus меняет статус модерации.
func (s *OrganizationService) SetApprovalStatus(ctx context.Context, actor Actor, id string, status model.ApprovalStatus) ([]ReindexFailure, error) {
	switch status {
	case model.ApprovalPending, model.ApprovalApproved, model.ApprovalRejected:
	default:
		return nil, fmt.Errorf("%w: неизвестный статус модерации %q", ErrValidation, status)
	}

	if err := s.orgRepo.SetApprovalStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("обновление статуса модерации: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.set_approval", Entity: "organization", TargetID: id,
		Details: fmt.Sprintf("статус модерации %s", status),
	})

	return s.indexer.ReindexOrganization(ctx, id), nil
}

// SoftDelete помечает организацию удалённой (восстанавливаемое окно)
// и убирает её сайты из индекса.
func (s *OrganizationService) SoftDelete(ctx context.Context, actor Actor, id string) ([]ReindexFailure, error) {
	if err := s.orgRepo.SoftDelete(ctx, id, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("soft delete организации: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.soft_delete", Entity: "organization", TargetID: id,
	})

	return s.indexer.ReindexOrganization(ctx, id), nil
}

// Restore снимает пометку удаления и возвращает сайты в индекс.
func (s *OrganizationService) Restore(ctx context.Context, actor Actor, id string) ([]ReindexFailure, error) {
	if err := s.orgRepo.Restore(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("восстановление организации: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.restore", Entity: "organization", TargetID: id,
	})

	return s.indexer.ReindexOrganization(ctx, id), nil
}

// HardDelete окончательно удаляет организацию с сайтами и триалами.
// Допустим только для уже помеченных soft delete. Документы сайтов
// удаляются из индекса до удаления строк БД.
func (s *OrganizationService) HardDelete(ctx context.Context, actor Actor, id string) error {
	// Сайты нужны до каскадного удаления строк
	failures := s.indexer.ReindexOrganization(ctx, id)
	for _, f := range failures {
		s.logger.Warn("Ошибка удаления документа при hard delete",
			slog.String("site_id", f.SiteID),
			slog.String("error", f.Error),
		)
	}

	if err := s.orgRepo.HardDelete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrganizationNotFound
		}
		return fmt.Errorf("hard delete организации: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.hard_delete", Entity: "organization", TargetID: id,
	})
	return nil
}

// StartTrial стартует триальную сессию организации.
// Активный триал даёт PRO-эквивалентные права без приоритетного буста.
func (s *OrganizationService) StartTrial(ctx context.Context, actor Actor, orgID string, duration time.Duration) (*model.TrialSession, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: длительность триала должна быть положительной", ErrValidation)
	}

	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}

	now := s.now()
	if existing, err := s.trialRepo.GetLatestByOrganization(ctx, orgID); err == nil {
		if existing.IsActiveAt(now) {
			return nil, fmt.Errorf("%w: у организации уже есть активный триал", ErrConflict)
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("проверка существующего триала: %w", err)
	}

	trial := &model.TrialSession{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Status:         model.TrialActive,
		EndsAt:         now.Add(duration),
	}
	if err := s.trialRepo.Create(ctx, trial); err != nil {
		return nil, fmt.Errorf("создание триала: %w", err)
	}

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.start_trial", Entity: "organization", TargetID: orgID,
		Details: fmt.Sprintf("триал до %s", trial.EndsAt.Format(time.RFC3339)),
	})
	return trial, nil
}

// BulkUpdatePlan применяет изменение плана к набору организаций.
// Мутация БД выполняется в одной транзакции; реиндексация — вне
// транзакции с ограниченной параллельностью, ошибки отдельных сайтов
// собираются и не прерывают batch.
func (s *OrganizationService) BulkUpdatePlan(ctx context.Context, actor Actor, ids []string, change PlanChange) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: пустой список организаций", ErrValidation)
	}

	upd, err := planUpdate(change, s.now())
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(repo repository.OrganizationRepository) error {
		for _, id := range ids {
			if err := repo.UpdatePlan(ctx, id, upd); err != nil {
				return fmt.Errorf("организация %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bulk-обновление планов: %w", err)
	}
	bulkOpsTotal.WithLabelValues("update_plan").Inc()

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.bulk_update_plan", Entity: "organization",
		Details:  fmt.Sprintf("план %s для %d организаций", change.PlanType, len(ids)),
		Snapshot: ids,
	})

	result := &BulkResult{Updated: len(ids)}
	for _, id := range ids {
		result.ReindexFailures = append(result.ReindexFailures,
			s.indexer.ReindexOrganization(ctx, id)...)
	}

	s.logger.Info("Bulk-обновление планов завершено",
		slog.Int("updated", result.Updated),
		slog.Int("reindex_failures", len(result.ReindexFailures)),
	)
	return result, nil
}

// BulkSoftDelete помечает набор организаций удалёнными в одной транзакции
// и убирает их сайты из индекса вне транзакции.
func (s *OrganizationService) BulkSoftDelete(ctx context.Context, actor Actor, ids []string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: пустой список организаций", ErrValidation)
	}

	now := s.now()
	err := s.inTx(ctx, func(repo repository.OrganizationRepository) error {
		for _, id := range ids {
			if err := repo.SoftDelete(ctx, id, now); err != nil {
				return fmt.Errorf("организация %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bulk-удаление организаций: %w", err)
	}
	bulkOpsTotal.WithLabelValues("soft_delete").Inc()

	s.audit.AppendBestEffort(ctx, AuditRecord{
		ActorID: actor.ID, ActorRole: actor.Role,
		Action: "organization.bulk_soft_delete", Entity: "organization",
		Details:  fmt.Sprintf("удалено организаций: %d", len(ids)),
		Snapshot: ids,
	})

	result := &BulkResult{Updated: len(ids)}
	for _, id := range ids {
		result.ReindexFailures = append(result.ReindexFailures,
			s.indexer.ReindexOrganization(ctx, id)...)
	}
	return result, nil
}

// ExpireTrials помечает истёкшие триалы и возвращает их количество.
// Вызывается периодической задачей.
func (s *OrganizationService) ExpireTrials(ctx context.Context) (int, error) {
	n, err := s.trialRepo.MarkExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("пометка истёкших триалов: %w", err)
	}
	if n > 0 {
		s.logger.Info("Истёкшие триалы помечены", slog.Int("count", n))
	}
	return n, nil
}
