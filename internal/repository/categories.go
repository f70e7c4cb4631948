package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
)

// categoryColumns — список столбцов таблицы categories для SELECT-запросов.
const categoryColumns = `id, name, slug, tags, sort_order, is_active, created_at, updated_at`

// CategoryRepository — интерфейс доступа к категориям каталога.
type CategoryRepository interface {
	// ListActive возвращает все активные категории, отсортированные
	// по sort_order, затем по имени.
	ListActive(ctx context.Context) ([]*model.Category, error)
	// GetByID возвращает категорию по UUID.
	GetByID(ctx context.Context, id string) (*model.Category, error)
}

// CountryRepository — интерфейс доступа к странам каталога.
type CountryRepository interface {
	// ResolveISO возвращает ISO-код по ISO-коду или внутреннему UUID.
	// ErrNotFound, если страна неизвестна.
	ResolveISO(ctx context.Context, isoOrID string) (string, error)
}

// categoryRepo — реализация CategoryRepository через pgx.
type categoryRepo struct {
	db DBTX
}

// NewCategoryRepository создаёт репозиторий категорий.
func NewCategoryRepository(db DBTX) CategoryRepository {
	return &categoryRepo{db: db}
}

func (r *categoryRepo) ListActive(ctx context.Context) ([]*model.Category, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM categories WHERE is_active ORDER BY sort_order, name`,
		categoryColumns,
	)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка списка активных категорий: %w", err)
	}
	defer rows.Close()

	var result []*model.Category
	for rows.Next() {
		c := &model.Category{}
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Slug, &c.Tags, &c.SortOrder, &c.IsActive,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования категории: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

func (r *categoryRepo) GetByID(ctx context.Context, id string) (*model.Category, error) {
	query := fmt.Sprintf(`SELECT %s FROM categories WHERE id = $1`, categoryColumns)

	c := &model.Category{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Slug, &c.Tags, &c.SortOrder, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения категории: %w", err)
	}
	return c, nil
}

// countryRepo — реализация CountryRepository через pgx.
type countryRepo struct {
	db DBTX
}

// NewCountryRepository создаёт репозиторий стран.
func NewCountryRepository(db DBTX) CountryRepository {
	return &countryRepo{db: db}
}

// ResolveISO принимает ISO-3166 alpha-2 код в любом регистре или
// внутренний UUID страны.
func (r *countryRepo) ResolveISO(ctx context.Context, isoOrID string) (string, error) {
	isoOrID = strings.TrimSpace(isoOrID)
	if isoOrID == "" {
		return "", ErrNotFound
	}

	var iso string
	err := r.db.QueryRow(ctx,
		`SELECT iso FROM countries WHERE iso = upper($1) OR id::text = $1`,
		isoOrID,
	).Scan(&iso)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка резолва страны: %w", err)
	}
	return iso, nil
}
