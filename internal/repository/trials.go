package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
)

// TrialRepository — интерфейс доступа к триальным сессиям.
type TrialRepository interface {
	// Create создаёт триальную сессию.
	Create(ctx context.Context, t *model.TrialSession) error
	// GetLatestByOrganization возвращает последнюю триальную сессию
	// организации или ErrNotFound.
	GetLatestByOrganization(ctx context.Context, orgID string) (*model.TrialSession, error)
	// MarkExpiredBefore помечает истёкшие триалы статусом EXPIRED.
	// Возвращает количество помеченных записей.
	MarkExpiredBefore(ctx context.Context, now time.Time) (int, error)
}

// trialRepo — реализация TrialRepository через pgx.
type trialRepo struct {
	db DBTX
}

// NewTrialRepository создаёт репозиторий триальных сессий.
func NewTrialRepository(db DBTX) TrialRepository {
	return &trialRepo{db: db}
}

func (r *trialRepo) Create(ctx context.Context, t *model.TrialSession) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO trial_sessions (id, organization_id, status, ends_at, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		t.ID, t.OrganizationID, t.Status, t.EndsAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания триала: %w", err)
	}
	return nil
}

func (r *trialRepo) GetLatestByOrganization(ctx context.Context, orgID string) (*model.TrialSession, error) {
	t := &model.TrialSession{}
	err := r.db.QueryRow(ctx, `
		SELECT id, organization_id, status, ends_at, created_at
		FROM trial_sessions
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		orgID,
	).Scan(&t.ID, &t.OrganizationID, &t.Status, &t.EndsAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения триала: %w", err)
	}
	return t, nil
}

func (r *trialRepo) MarkExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE trial_sessions SET status = 'EXPIRED'
		WHERE status = 'ACTIVE' AND ends_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка пометки истёкших триалов: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
