package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
)

// siteColumns — список столбцов таблицы sites для SELECT-запросов.
const siteColumns = `id, organization_id, name, website_url, category_id,
	country_iso, state_id, verification_status, created_at, updated_at`

// SiteWithOwner — типизированная проекция сайта вместе с организацией-владельцем.
// Owner = nil для независимых сайтов. Используется индексатором для
// построения поискового документа.
type SiteWithOwner struct {
	// Site — сайт
	Site *model.Site
	// Owner — организация-владелец (nil = независимый сайт)
	Owner *model.Organization
}

// SiteRepository — интерфейс CRUD для таблицы sites.
type SiteRepository interface {
	// Create создаёт сайт.
	Create(ctx context.Context, s *model.Site) error
	// GetByID возвращает сайт по UUID.
	GetByID(ctx context.Context, id string) (*model.Site, error)
	// GetWithOwner возвращает сайт вместе с организацией-владельцем.
	GetWithOwner(ctx context.Context, id string) (*SiteWithOwner, error)
	// ListByOrganization возвращает все сайты организации.
	ListByOrganization(ctx context.Context, orgID string) ([]*model.Site, error)
	// ListWithOwnerBatch возвращает батч сайтов с владельцами для полной
	// реиндексации (постраничный обход по id).
	ListWithOwnerBatch(ctx context.Context, afterID string, limit int) ([]*SiteWithOwner, error)
	// SetVerificationStatus меняет статус верификации сайта.
	SetVerificationStatus(ctx context.Context, id string, status model.VerificationStatus) error
	// Update обновляет изменяемые поля сайта.
	Update(ctx context.Context, s *model.Site) error
	// Delete удаляет сайт.
	Delete(ctx context.Context, id string) error
}

// siteRepo — реализация SiteRepository через pgx.
type siteRepo struct {
	db DBTX
}

// NewSiteRepository создаёт репозиторий сайтов.
func NewSiteRepository(db DBTX) SiteRepository {
	return &siteRepo{db: db}
}

func (r *siteRepo) Create(ctx context.Context, s *model.Site) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sites (id, organization_id, name, website_url, category_id,
			country_iso, state_id, verification_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		s.ID, s.OrganizationID, s.Name, s.WebsiteURL, s.CategoryID,
		s.CountryISO, s.StateID, s.VerificationStatus,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания сайта: %w", err)
	}
	return nil
}

func (r *siteRepo) GetByID(ctx context.Context, id string) (*model.Site, error) {
	query := fmt.Sprintf(`SELECT %s FROM sites WHERE id = $1`, siteColumns)

	s := &model.Site{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.OrganizationID, &s.Name, &s.WebsiteURL, &s.CategoryID,
		&s.CountryISO, &s.StateID, &s.VerificationStatus, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сайта: %w", err)
	}
	return s, nil
}

// siteWithOwnerColumns — столбцы JOIN-запроса сайт + организация.
const siteWithOwnerColumns = `s.id, s.organization_id, s.name, s.website_url, s.category_id,
	s.country_iso, s.state_id, s.verification_status, s.created_at, s.updated_at,
	o.id, o.name, o.plan_type, o.plan_status, o.plan_start_at, o.paid_term_end_at,
	o.grace_suppressed, o.manual_priority, o.manual_priority_expires_at, o.priority_override,
	o.is_restricted, o.status, o.support_tier, o.deleted_at, o.created_at, o.updated_at`

// scanSiteWithOwner строит проекцию из строки JOIN-запроса.
// Поля организации сканируются в nullable-переменные: LEFT JOIN
// возвращает NULL для независимых сайтов.
func scanSiteWithOwner(row pgx.Row) (*SiteWithOwner, error) {
	s := &model.Site{}
	var (
		ownerID         *string
		ownerName       *string
		planType        *string
		planStatus      *string
		org             model.Organization
		manualPriority  *string
		approvalStatus  *string
		supportTier     *string
		graceSuppressed *bool
		isRestricted    *bool
	)
	err := row.Scan(
		&s.ID, &s.OrganizationID, &s.Name, &s.WebsiteURL, &s.CategoryID,
		&s.CountryISO, &s.StateID, &s.VerificationStatus, &s.CreatedAt, &s.UpdatedAt,
		&ownerID, &ownerName, &planType, &planStatus, &org.PlanStartAt, &org.PaidTermEndAt,
		&graceSuppressed, &manualPriority, &org.ManualPriorityExpiresAt, &org.PriorityOverride,
		&isRestricted, &approvalStatus, &supportTier, &org.DeletedAt, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	out := &SiteWithOwner{Site: s}
	if ownerID != nil {
		org.ID = *ownerID
		org.Name = *ownerName
		org.PlanType = model.PlanType(*planType)
		org.PlanStatus = model.PlanStatus(*planStatus)
		org.GraceSuppressed = *graceSuppressed
		org.ManualPriority = model.PriorityLevel(*manualPriority)
		org.IsRestricted = *isRestricted
		org.Status = model.ApprovalStatus(*approvalStatus)
		org.SupportTier = model.SupportTier(*supportTier)
		out.Owner = &org
	}
	return out, nil
}

func (r *siteRepo) GetWithOwner(ctx context.Context, id string) (*SiteWithOwner, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sites s
		LEFT JOIN organizations o ON o.id = s.organization_id
		WHERE s.id = $1`, siteWithOwnerColumns)

	sw, err := scanSiteWithOwner(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сайта с владельцем: %w", err)
	}
	return sw, nil
}

func (r *siteRepo) ListByOrganization(ctx context.Context, orgID string) ([]*model.Site, error) {
	query := fmt.Sprintf(`SELECT %s FROM sites WHERE organization_id = $1 ORDER BY created_at`, siteColumns)

	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("ошибка списка сайтов организации: %w", err)
	}
	defer rows.Close()

	var result []*model.Site
	for rows.Next() {
		s := &model.Site{}
		if err := rows.Scan(
			&s.ID, &s.OrganizationID, &s.Name, &s.WebsiteURL, &s.CategoryID,
			&s.CountryISO, &s.StateID, &s.VerificationStatus, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сайта: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

func (r *siteRepo) ListWithOwnerBatch(ctx context.Context, afterID string, limit int) ([]*SiteWithOwner, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sites s
		LEFT JOIN organizations o ON o.id = s.organization_id
		WHERE s.id > $1
		ORDER BY s.id
		LIMIT $2`, siteWithOwnerColumns)

	rows, err := r.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка батча сайтов для реиндексации: %w", err)
	}
	defer rows.Close()

	var result []*SiteWithOwner
	for rows.Next() {
		sw, err := scanSiteWithOwner(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования батча: %w", err)
		}
		result = append(result, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

func (r *siteRepo) SetVerificationStatus(ctx context.Context, id string, status model.VerificationStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sites SET verification_status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса верификации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *siteRepo) Update(ctx context.Context, s *model.Site) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sites
		SET name = $2, website_url = $3, category_id = $4, country_iso = $5,
			state_id = $6, updated_at = now()
		WHERE id = $1`,
		s.ID, s.Name, s.WebsiteURL, s.CategoryID, s.CountryISO, s.StateID,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления сайта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *siteRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления сайта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
