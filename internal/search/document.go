// Пакет search — интеграция с Meilisearch: поисковый индекс сайтов,
// построитель фильтров и типизированные документы.
package search

import (
	"time"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
)

// SiteDocument — денормализованная проекция сайта и его организации
// в поисковом индексе. Перестраивается при каждом изменении влияющих
// полей сайта или организации.
type SiteDocument struct {
	// ID — UUID сайта (primary key индекса)
	ID string `json:"id"`
	// Name — название сайта
	Name string `json:"name"`
	// WebsiteURL — адрес сайта
	WebsiteURL string `json:"websiteUrl"`
	// OrganizationID — UUID организации-владельца (пустая строка = независимый)
	OrganizationID string `json:"organizationId"`
	// OrganizationName — название организации
	OrganizationName string `json:"organizationName"`
	// PriorityRank — ранг приоритета организации (HIGH=1 … LOW=4)
	PriorityRank int `json:"priorityRank"`
	// CategoryID — UUID категории (пустая строка = без категории)
	CategoryID string `json:"categoryId"`
	// CategorySlug — слаг категории
	CategorySlug string `json:"categorySlug"`
	// CountryISO — ISO-код страны
	CountryISO string `json:"countryIso"`
	// StateID — UUID региона (пустая строка = без региона)
	StateID string `json:"stateId"`
	// IsApproved — организация одобрена (true для независимых сайтов)
	IsApproved bool `json:"isApproved"`
	// CreatedAt — время создания сайта (unix-секунды, сортируемое поле)
	CreatedAt int64 `json:"createdAt"`
}

// Hit — документ выдачи вместе с релевантностью Meilisearch.
// RankingScore = 0 для browse-запросов без текстового запроса.
type Hit struct {
	SiteDocument
	// RankingScore — релевантность Meilisearch (0..1)
	RankingScore float64 `json:"_rankingScore"`
}

// CreatedTime возвращает время создания документа.
func (d *SiteDocument) CreatedTime() time.Time {
	return time.Unix(d.CreatedAt, 0).UTC()
}

// FilterableAttributes — атрибуты индекса, по которым строятся фильтры.
func FilterableAttributes() []string {
	return []string{"countryIso", "stateId", "categoryId", "categorySlug", "isApproved", "organizationId"}
}

// SortableAttributes — атрибуты индекса, по которым строится сортировка.
func SortableAttributes() []string {
	return []string{"priorityRank", "createdAt", "id"}
}

// BuildDocument строит поисковый документ из сайта и его организации.
// category может быть nil, owner — nil для независимых сайтов.
// priorityRank — вычисленный ранг приоритета организации
// (для независимых сайтов передаётся ранг NORMAL).
func BuildDocument(site *model.Site, owner *model.Organization, category *model.Category, priorityRank int) SiteDocument {
	doc := SiteDocument{
		ID:           site.ID,
		Name:         site.Name,
		WebsiteURL:   site.WebsiteURL,
		PriorityRank: priorityRank,
		CountryISO:   site.CountryISO,
		IsApproved:   true,
		CreatedAt:    site.CreatedAt.Unix(),
	}
	if owner != nil {
		doc.OrganizationID = owner.ID
		doc.OrganizationName = owner.Name
		doc.IsApproved = owner.IsApproved()
	}
	if category != nil {
		doc.CategoryID = category.ID
		doc.CategorySlug = category.Slug
	}
	if site.StateID != nil {
		doc.StateID = *site.StateID
	}
	return doc
}
