package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

// Client — реализация Index поверх Meilisearch.
type Client struct {
	manager meilisearch.ServiceManager
	index   meilisearch.IndexManager
	logger  *slog.Logger
}

// NewClient создаёт клиент Meilisearch.
// apiKey может быть пустым (dev-среда без ключа).
func NewClient(url, apiKey, indexName string, logger *slog.Logger) *Client {
	var opts []meilisearch.Option
	if apiKey != "" {
		opts = append(opts, meilisearch.WithAPIKey(apiKey))
	}
	manager := meilisearch.New(url, opts...)

	return &Client{
		manager: manager,
		index:   manager.Index(indexName),
		logger:  logger.With(slog.String("component", "meili_client")),
	}
}

var _ Index = (*Client)(nil)

// Query выполняет текстовый запрос с фильтром и релевантностью.
func (c *Client) Query(ctx context.Context, query, filter string, limit, offset int) (*QueryResult, error) {
	req := &meilisearch.SearchRequest{
		Limit:            int64(limit),
		Offset:           int64(offset),
		ShowRankingScore: true,
	}
	if filter != "" {
		req.Filter = filter
	}

	resp, err := c.index.SearchWithContext(ctx, query, req)
	if err != nil {
		c.logger.Error("Ошибка текстового запроса к Meilisearch", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	return decodeResponse(resp)
}

// Browse выполняет нетекстовую выборку с явной сортировкой.
func (c *Client) Browse(ctx context.Context, filter string, sort []string, limit, offset int) (*QueryResult, error) {
	req := &meilisearch.SearchRequest{
		Limit:  int64(limit),
		Offset: int64(offset),
		Sort:   sort,
	}
	if filter != "" {
		req.Filter = filter
	}

	resp, err := c.index.SearchWithContext(ctx, "", req)
	if err != nil {
		c.logger.Error("Ошибка browse-запроса к Meilisearch", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	return decodeResponse(resp)
}

// Upsert добавляет или обновляет документы индекса.
func (c *Client) Upsert(ctx context.Context, docs []SiteDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := c.index.AddDocumentsWithContext(ctx, docs, "id"); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

// Delete удаляет документы индекса по id.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := c.index.DeleteDocumentsWithContext(ctx, ids); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

// EnsureSettings приводит filterable/sortable атрибуты к требуемым.
func (c *Client) EnsureSettings(ctx context.Context) error {
	filterable := FilterableAttributes()
	if _, err := c.index.UpdateFilterableAttributesWithContext(ctx, &filterable); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	sortable := SortableAttributes()
	if _, err := c.index.UpdateSortableAttributesWithContext(ctx, &sortable); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

// CheckReady проверяет доступность Meilisearch для health endpoint.
// Реализует интерфейс handlers.ReadinessChecker.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := c.manager.HealthWithContext(ctx); err != nil {
		return "fail", fmt.Sprintf("Meilisearch недоступен: %v", err)
	}
	return "ok", "индекс доступен"
}

// decodeResponse конвертирует сырые hits Meilisearch в типизированные
// документы через JSON round-trip (hits приходят как map[string]any).
func decodeResponse(resp *meilisearch.SearchResponse) (*QueryResult, error) {
	result := &QueryResult{
		Hits:           make([]Hit, 0, len(resp.Hits)),
		EstimatedTotal: resp.EstimatedTotalHits,
	}
	for _, raw := range resp.Hits {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации hit: %w", err)
		}
		var hit Hit
		if err := json.Unmarshal(data, &hit); err != nil {
			return nil, fmt.Errorf("ошибка декодирования hit: %w", err)
		}
		result.Hits = append(result.Hits, hit)
	}
	return result, nil
}
