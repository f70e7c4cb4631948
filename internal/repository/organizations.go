package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
)

// orgColumns — список столбцов таблицы organizations для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const orgColumns = `id, name, plan_type, plan_status, plan_start_at, paid_term_end_at,
	grace_suppressed, manual_priority, manual_priority_expires_at, priority_override,
	is_restricted, status, support_tier, deleted_at, created_at, updated_at`

// PlanUpdate — типизированная проекция изменения плана организации.
// Явная структура вместо ad hoc частичных апдейтов.
type PlanUpdate struct {
	// PlanType — новый тип плана
	PlanType model.PlanType
	// PlanStatus — новый статус плана
	PlanStatus model.PlanStatus
	// PlanStartAt — начало оплаченного периода (nil для FREE)
	PlanStartAt *time.Time
	// PaidTermEndAt — конец оплаченного периода (nil для FREE)
	PaidTermEndAt *time.Time
	// SupportTier — уровень поддержки
	SupportTier model.SupportTier
	// PriorityOverride — override приоритета (nil = сброс)
	PriorityOverride *int
}

// ManualPriorityUpdate — типизированная проекция изменения ручного приоритета.
type ManualPriorityUpdate struct {
	// Priority — новый ручной приоритет
	Priority model.PriorityLevel
	// ExpiresAt — срок действия (nil = бессрочно)
	ExpiresAt *time.Time
}

// OrganizationRepository — интерфейс CRUD для таблицы organizations.
type OrganizationRepository interface {
	// Create создаёт организацию.
	Create(ctx context.Context, org *model.Organization) error
	// GetByID возвращает организацию по UUID (включая soft-deleted).
	GetByID(ctx context.Context, id string) (*model.Organization, error)
	// List возвращает организации с пагинацией (без soft-deleted).
	List(ctx context.Context, limit, offset int) ([]*model.Organization, error)
	// UpdatePlan применяет изменение плана.
	UpdatePlan(ctx context.Context, id string, upd PlanUpdate) error
	// Downgrade переводит организацию на FREE/EXPIRED (auto-downgrade при
	// истечении плана). Идемпотентна: повторный вызов записывает те же значения.
	Downgrade(ctx context.Context, id string) error
	// UpdateManualPriority применяет изменение ручного приоритета.
	UpdateManualPriority(ctx context.Context, id string, upd ManualPriorityUpdate) error
	// SetRestricted выставляет флаг ограничения.
	SetRestricted(ctx context.Context, id string, restricted bool) error
	// SetApprovalStatus меняет статус модерации.
	SetApprovalStatus(ctx context.Context, id string, status model.ApprovalStatus) error
	// SoftDelete помечает организацию удалённой.
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// Restore снимает пометку soft delete (recoverable window).
	Restore(ctx context.Context, id string) error
	// HardDelete окончательно удаляет организацию вместе с её сайтами
	// и триалами. Только для записей, уже помеченных soft delete.
	HardDelete(ctx context.Context, id string) error
}

// orgRepo — реализация OrganizationRepository через pgx.
type orgRepo struct {
	db DBTX
}

// NewOrganizationRepository создаёт репозиторий организаций.
// db — *pgxpool.Pool или pgx.Tx (для bulk-операций в транзакции).
func NewOrganizationRepository(db DBTX) OrganizationRepository {
	return &orgRepo{db: db}
}

func (r *orgRepo) Create(ctx context.Context, org *model.Organization) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO organizations (id, name, plan_type, plan_status, plan_start_at,
			paid_term_end_at, grace_suppressed, manual_priority, manual_priority_expires_at,
			priority_override, is_restricted, status, support_tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())`,
		org.ID, org.Name, org.PlanType, org.PlanStatus, org.PlanStartAt,
		org.PaidTermEndAt, org.GraceSuppressed, org.ManualPriority, org.ManualPriorityExpiresAt,
		org.PriorityOverride, org.IsRestricted, org.Status, org.SupportTier,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания организации: %w", err)
	}
	return nil
}

func (r *orgRepo) GetByID(ctx context.Context, id string) (*model.Organization, error) {
	query := fmt.Sprintf(`SELECT %s FROM organizations WHERE id = $1`, orgColumns)

	org := &model.Organization{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.PlanType, &org.PlanStatus, &org.PlanStartAt,
		&org.PaidTermEndAt, &org.GraceSuppressed, &org.ManualPriority, &org.ManualPriorityExpiresAt,
		&org.PriorityOverride, &org.IsRestricted, &org.Status, &org.SupportTier,
		&org.DeletedAt, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения организации: %w", err)
	}
	return org, nil
}

func (r *orgRepo) List(ctx context.Context, limit, offset int) ([]*model.Organization, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM organizations WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		orgColumns,
	)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка списка организаций: %w", err)
	}
	defer rows.Close()

	var result []*model.Organization
	for rows.Next() {
		org := &model.Organization{}
		if err := rows.Scan(
			&org.ID, &org.Name, &org.PlanType, &org.PlanStatus, &org.PlanStartAt,
			&org.PaidTermEndAt, &org.GraceSuppressed, &org.ManualPriority, &org.ManualPriorityExpiresAt,
			&org.PriorityOverride, &org.IsRestricted, &org.Status, &org.SupportTier,
			&org.DeletedAt, &org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования организации: %w", err)
		}
		result = append(result, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

func (r *orgRepo) UpdatePlan(ctx context.Context, id string, upd PlanUpdate) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE organizations
		SET plan_type = $2, plan_status = $3, plan_start_at = $4, paid_term_end_at = $5,
			support_tier = $6, priority_override = $7, updated_at = now()
		WHERE id = $1`,
		id, upd.PlanType, upd.PlanStatus, upd.PlanStartAt, upd.PaidTermEndAt,
		upd.SupportTier, upd.PriorityOverride,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления плана: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Downgrade записывает фиксированный набор значений FREE/EXPIRED,
// поэтому конкурентные вызовы безопасны.
func (r *orgRepo) Downgrade(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE organizations
		SET plan_type = 'FREE', plan_status = 'EXPIRED', plan_start_at = NULL,
			paid_term_end_at = NULL, support_tier = 'NONE', priority_override = NULL,
			updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("ошибка авто-даунгрейда организации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orgRepo) UpdateManualPriority(ctx context.Context, id string, upd ManualPriorityUpdate) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE organizations
		SET manual_priority = $2, manual_priority_expires_at = $3, updated_at = now()
		WHERE id = $1`,
		id, upd.Priority, upd.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления ручного приоритета: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orgRepo) SetRestricted(ctx context.Context, id string, restricted bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE organizations SET is_restricted = $2, updated_at = now() WHERE id = $1`,
		id, restricted,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления флага ограничения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orgRepo) SetApprovalStatus(ctx context.Context, id string, status model.ApprovalStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE organizations SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса модерации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orgRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE organizations SET deleted_at = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("ошибка soft delete организации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orgRepo) Restore(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE organizations SET deleted_at = NULL, updated_at = now()
		WHERE id = $1 AND deleted_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("ошибка восстановления организации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orgRepo) HardDelete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM trial_sessions WHERE organization_id = $1`, id); err != nil {
		return fmt.Errorf("ошибка удаления триалов организации: %w", err)
	}
	if _, err := r.db.Exec(ctx,
		`DELETE FROM sites WHERE organization_id = $1`, id); err != nil {
		return fmt.Errorf("ошибка удаления сайтов организации: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM organizations WHERE id = $1 AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("ошибка hard delete организации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
