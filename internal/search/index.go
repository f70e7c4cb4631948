package search

import (
	"context"
	"errors"
)

// ErrUnavailable — поисковый индекс недоступен или вернул ошибку.
// Политика: при недоступности индекса поиск не деградирует
// к прямым запросам в БД, операция завершается этой ошибкой.
var ErrUnavailable = errors.New("поисковый индекс недоступен")

// QueryResult — страница выдачи индекса.
type QueryResult struct {
	// Hits — документы страницы
	Hits []Hit
	// EstimatedTotal — оценка общего количества совпадений
	EstimatedTotal int64
}

// Index — контракт внешнего поискового индекса.
// Реализуется клиентом Meilisearch; в тестах — in-memory фейком.
type Index interface {
	// Query выполняет текстовый запрос с фильтром.
	// Выдача ранжирована релевантностью индекса (RankingScore заполнен).
	Query(ctx context.Context, query, filter string, limit, offset int) (*QueryResult, error)
	// Browse выполняет нетекстовую выборку с фильтром и явной сортировкой.
	// RankingScore в выдаче не заполняется.
	Browse(ctx context.Context, filter string, sort []string, limit, offset int) (*QueryResult, error)
	// Upsert добавляет или обновляет документы.
	Upsert(ctx context.Context, docs []SiteDocument) error
	// Delete удаляет документы по id.
	Delete(ctx context.Context, ids []string) error
	// EnsureSettings приводит filterable/sortable атрибуты индекса
	// к требуемым. Вызывается при старте.
	EnsureSettings(ctx context.Context) error
}
