package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
	"github.com/bigkaa/sitedir/directory-module/internal/search"
)

func newIndexerService(index *mockIndex, sites *mockSiteRepo) *IndexerService {
	svc := NewIndexerService(index, sites, &mockCategoryRepo{}, &mockTrialRepo{},
		500, 4, slog.Default())
	svc.now = func() time.Time { return testNow }
	return svc
}

func verifiedSite(id string, orgID *string) *model.Site {
	return &model.Site{
		ID:                 id,
		OrganizationID:     orgID,
		Name:               "Site " + id,
		WebsiteURL:         "https://" + id + ".example.com",
		CountryISO:         "US",
		VerificationStatus: model.VerificationSuccess,
		CreatedAt:          testNow.Add(-time.Hour),
	}
}

func TestIndexEligible(t *testing.T) {
	orgID := "org-1"

	tests := []struct {
		name  string
		site  *model.Site
		owner *model.Organization
		want  bool
	}{
		{
			name: "независимый верифицированный сайт",
			site: verifiedSite("s1", nil), owner: nil, want: true,
		},
		{
			name: "сайт одобренной организации",
			site: verifiedSite("s2", &orgID), owner: approvedOrg(model.PlanPro), want: true,
		},
		{
			name: "непройденная верификация",
			site: func() *model.Site {
				s := verifiedSite("s3", nil)
				s.VerificationStatus = model.VerificationPending
				return s
			}(),
			owner: nil, want: false,
		},
		{
			name: "организация на модерации",
			site: verifiedSite("s4", &orgID),
			owner: func() *model.Organization {
				o := approvedOrg(model.PlanPro)
				o.Status = model.ApprovalPending
				return o
			}(),
			want: false,
		},
		{
			name: "ограниченная организация",
			site: verifiedSite("s5", &orgID),
			owner: func() *model.Organization {
				o := approvedOrg(model.PlanPro)
				o.IsRestricted = true
				return o
			}(),
			want: false,
		},
		{
			name: "удалённая организация",
			site: verifiedSite("s6", &orgID),
			owner: func() *model.Organization {
				o := approvedOrg(model.PlanPro)
				deleted := testNow
				o.DeletedAt = &deleted
				return o
			}(),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := indexEligible(tt.site, tt.owner); got != tt.want {
				t.Errorf("indexEligible = %v, ожидалось %v", got, tt.want)
			}
		})
	}
}

// TestIndexerService_ReindexSite_Upsert — сайт с правом на индексацию
// получает документ с рангом приоритета владельца.
func TestIndexerService_ReindexSite_Upsert(t *testing.T) {
	orgID := "org-1"
	site := verifiedSite("site-1", &orgID)
	owner := approvedOrg(model.PlanBusiness) // BUSINESS → HIGH → ранг 1

	var upserted []search.SiteDocument
	index := &mockIndex{
		upsertFn: func(_ context.Context, docs []search.SiteDocument) error {
			upserted = docs
			return nil
		},
	}
	sites := &mockSiteRepo{
		getWithOwnerFn: func(_ context.Context, _ string) (*repository.SiteWithOwner, error) {
			return &repository.SiteWithOwner{Site: site, Owner: owner}, nil
		},
	}
	svc := newIndexerService(index, sites)

	if err := svc.ReindexSite(context.Background(), "site-1"); err != nil {
		t.Fatalf("ReindexSite ошибка: %v", err)
	}

	if len(upserted) != 1 {
		t.Fatalf("записано %d документов, ожидался 1", len(upserted))
	}
	doc := upserted[0]
	if doc.ID != "site-1" {
		t.Errorf("ID = %s, ожидался site-1", doc.ID)
	}
	if doc.PriorityRank != model.PriorityHigh.Rank() {
		t.Errorf("PriorityRank = %d, ожидался %d (BUSINESS → HIGH)",
			doc.PriorityRank, model.PriorityHigh.Rank())
	}
	if !doc.IsApproved {
		t.Error("IsApproved = false, организация одобрена")
	}
}

// TestIndexerService_ReindexSite_RemovesIneligible — сайт без права на
// индексацию удаляется из индекса, а не записывается.
func TestIndexerService_ReindexSite_RemovesIneligible(t *testing.T) {
	orgID := "org-1"
	site := verifiedSite("site-1", &orgID)
	owner := approvedOrg(model.PlanPro)
	owner.IsRestricted = true

	var deleted []string
	index := &mockIndex{
		upsertFn: func(_ context.Context, _ []search.SiteDocument) error {
			t.Error("Upsert не должен вызываться для сайта без права на индексацию")
			return nil
		},
		deleteFn: func(_ context.Context, ids []string) error {
			deleted = ids
			return nil
		},
	}
	sites := &mockSiteRepo{
		getWithOwnerFn: func(_ context.Context, _ string) (*repository.SiteWithOwner, error) {
			return &repository.SiteWithOwner{Site: site, Owner: owner}, nil
		},
	}
	svc := newIndexerService(index, sites)

	if err := svc.ReindexSite(context.Background(), "site-1"); err != nil {
		t.Fatalf("ReindexSite ошибка: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "site-1" {
		t.Errorf("удалено %v, ожидался [site-1]", deleted)
	}
}

// TestIndexerService_ReindexSite_DeletedFromDB — удалённый из БД сайт
// убирается из индекса.
func TestIndexerService_ReindexSite_DeletedFromDB(t *testing.T) {
	var deleted []string
	index := &mockIndex{
		deleteFn: func(_ context.Context, ids []string) error {
			deleted = ids
			return nil
		},
	}
	sites := &mockSiteRepo{
		getWithOwnerFn: func(_ context.Context, _ string) (*repository.SiteWithOwner, error) {
			return nil, repository.ErrNotFound
		},
	}
	svc := newIndexerService(index, sites)

	if err := svc.ReindexSite(context.Background(), "gone"); err != nil {
		t.Fatalf("ReindexSite ошибка: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "gone" {
		t.Errorf("удалено %v, ожидался [gone]", deleted)
	}
}

// TestIndexerService_ReindexSites_PartialFailure — ошибки отдельных сайтов
// собираются, не прерывая остальных.
func TestIndexerService_ReindexSites_PartialFailure(t *testing.T) {
	var mu sync.Mutex
	processed := make(map[string]bool)

	index := &mockIndex{
		upsertFn: func(_ context.Context, docs []search.SiteDocument) error {
			mu.Lock()
			defer mu.Unlock()
			for _, d := range docs {
				processed[d.ID] = true
			}
			return nil
		},
	}
	sites := &mockSiteRepo{
		getWithOwnerFn: func(_ context.Context, id string) (*repository.SiteWithOwner, error) {
			if id == "site-bad" {
				return nil, fmt.Errorf("временная ошибка БД")
			}
			return &repository.SiteWithOwner{Site: verifiedSite(id, nil)}, nil
		},
	}
	svc := newIndexerService(index, sites)

	failures := svc.ReindexSites(context.Background(),
		[]string{"site-1", "site-bad", "site-2", "site-3"})

	if len(failures) != 1 {
		t.Fatalf("ошибок %d, ожидалась 1", len(failures))
	}
	if failures[0].SiteID != "site-bad" {
		t.Errorf("ошибка для %s, ожидался site-bad", failures[0].SiteID)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"site-1", "site-2", "site-3"} {
		if !processed[id] {
			t.Errorf("сайт %s не был реиндексирован несмотря на ошибку соседа", id)
		}
	}
}

// TestIndexerService_ReindexAll — полный обход с batch upsert и удалением
// документов без права на индексацию; неполный батч завершает обход.
func TestIndexerService_ReindexAll(t *testing.T) {
	orgID := "org-restricted"
	restricted := approvedOrg(model.PlanPro)
	restricted.ID = orgID
	restricted.IsRestricted = true

	all := []*repository.SiteWithOwner{
		{Site: verifiedSite("site-1", nil)},
		{Site: verifiedSite("site-2", &orgID), Owner: restricted},
		{Site: verifiedSite("site-3", nil)},
	}

	batches := 0
	sites := &mockSiteRepo{
		listWithOwnerBatchFn: func(_ context.Context, afterID string, limit int) ([]*repository.SiteWithOwner, error) {
			batches++
			if afterID != "" {
				return nil, nil
			}
			return all, nil
		},
	}

	var upserted, removed []string
	index := &mockIndex{
		upsertFn: func(_ context.Context, docs []search.SiteDocument) error {
			for _, d := range docs {
				upserted = append(upserted, d.ID)
			}
			return nil
		},
		deleteFn: func(_ context.Context, ids []string) error {
			removed = append(removed, ids...)
			return nil
		},
	}
	svc := newIndexerService(index, sites)

	report, err := svc.ReindexAll(context.Background())
	if err != nil {
		t.Fatalf("ReindexAll ошибка: %v", err)
	}

	if report.Scanned != 3 {
		t.Errorf("Scanned = %d, ожидалось 3", report.Scanned)
	}
	if report.Upserted != 2 || len(upserted) != 2 {
		t.Errorf("Upserted = %d (%v), ожидалось 2", report.Upserted, upserted)
	}
	if report.Removed != 1 || len(removed) != 1 || removed[0] != "site-2" {
		t.Errorf("Removed = %d (%v), ожидался [site-2]", report.Removed, removed)
	}
	if batches != 1 {
		t.Errorf("батчей %d, ожидался 1 (неполный батч завершает обход)", batches)
	}
}
