package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
)

// auditColumns — список столбцов таблицы audit_log для SELECT-запросов.
const auditColumns = `id, actor_id, actor_role, action, entity, target_id,
	details, snapshot, prev_hash, current_hash, created_at`

// AuditListFilters — фильтры выборки журнала аудита.
// Все поля — указатели, nil = фильтр не применяется.
type AuditListFilters struct {
	// ActorID — фильтр по действующему лицу (exact match)
	ActorID *string
	// Entity — фильтр по имени сущности (exact match)
	Entity *string
	// Action — фильтр по виду действия (exact match)
	Action *string
	// TargetID — фильтр по целевой записи (exact match)
	TargetID *string
	// Since — записи не старше указанного времени
	Since *time.Time
	// Until — записи не новее указанного времени
	Until *time.Time
}

// AuditLogRepository — интерфейс доступа к журналу аудита.
// Журнал append-only: записи никогда не обновляются; удаление —
// только retention-задачей по возрасту.
type AuditLogRepository interface {
	// Insert добавляет запись журнала.
	Insert(ctx context.Context, e *model.AuditEntry) error
	// GetLast возвращает последнюю добавленную запись или ErrNotFound
	// для пустого журнала.
	GetLast(ctx context.Context) (*model.AuditEntry, error)
	// ListOldest возвращает записи от старых к новым (для replay цепочки).
	ListOldest(ctx context.Context, limit int) ([]*model.AuditEntry, error)
	// List возвращает записи от новых к старым с фильтрами и пагинацией.
	List(ctx context.Context, filters AuditListFilters, limit, offset int) ([]*model.AuditEntry, error)
	// Count возвращает количество записей с фильтрами.
	Count(ctx context.Context, filters AuditListFilters) (int, error)
	// DeleteOlderThan удаляет записи старше cutoff (retention по возрасту,
	// никогда по содержимому). Возвращает количество удалённых.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// auditRepo — реализация AuditLogRepository через pgx.
type auditRepo struct {
	db DBTX
}

// NewAuditLogRepository создаёт репозиторий журнала аудита.
func NewAuditLogRepository(db DBTX) AuditLogRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, actor_role, action, entity, target_id,
			details, snapshot, prev_hash, current_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.ActorID, e.ActorRole, e.Action, e.Entity, e.TargetID,
		e.Details, e.Snapshot, e.PrevHash, e.CurrentHash, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка добавления записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) GetLast(ctx context.Context) (*model.AuditEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_log ORDER BY id DESC LIMIT 1`, auditColumns)

	e, err := scanAuditEntry(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения последней записи аудита: %w", err)
	}
	return e, nil
}

func (r *auditRepo) ListOldest(ctx context.Context, limit int) ([]*model.AuditEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_log ORDER BY id LIMIT $1`, auditColumns)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки журнала для replay: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

func (r *auditRepo) List(ctx context.Context, filters AuditListFilters, limit, offset int) ([]*model.AuditEntry, error) {
	where, args := buildAuditWhere(filters)
	argNum := len(args) + 1

	query := fmt.Sprintf(
		`SELECT %s FROM audit_log %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, argNum, argNum+1,
	)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки журнала аудита: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

func (r *auditRepo) Count(ctx context.Context, filters AuditListFilters) (int, error) {
	where, args := buildAuditWhere(filters)

	var count int
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM audit_log %s`, where), args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей аудита: %w", err)
	}
	return count, nil
}

func (r *auditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка retention журнала аудита: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// buildAuditWhere строит WHERE-условие из фильтров.
// Возвращает SQL-фрагмент и аргументы.
func buildAuditWhere(f AuditListFilters) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Entity != nil {
		add("entity = $%d", *f.Entity)
	}
	if f.Action != nil {
		add("action = $%d", *f.Action)
	}
	if f.TargetID != nil {
		add("target_id = $%d", *f.TargetID)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at <= $%d", *f.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// scanAuditEntry сканирует одну запись журнала.
func scanAuditEntry(row pgx.Row) (*model.AuditEntry, error) {
	e := &model.AuditEntry{}
	err := row.Scan(
		&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.Entity, &e.TargetID,
		&e.Details, &e.Snapshot, &e.PrevHash, &e.CurrentHash, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// collectAuditEntries сканирует все строки выборки.
func collectAuditEntries(rows pgx.Rows) ([]*model.AuditEntry, error) {
	var result []*model.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}
