package service

import (
	"context"
	"time"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
	"github.com/bigkaa/sitedir/directory-module/internal/search"
)

// --- Общие моки репозиториев для unit-тестов сервисного слоя ---

// mockOrgRepo — мок OrganizationRepository.
type mockOrgRepo struct {
	createFn               func(ctx context.Context, org *model.Organization) error
	getByIDFn              func(ctx context.Context, id string) (*model.Organization, error)
	listFn                 func(ctx context.Context, limit, offset int) ([]*model.Organization, error)
	updatePlanFn           func(ctx context.Context, id string, upd repository.PlanUpdate) error
	downgradeFn            func(ctx context.Context, id string) error
	updateManualPriorityFn func(ctx context.Context, id string, upd repository.ManualPriorityUpdate) error
	setRestrictedFn        func(ctx context.Context, id string, restricted bool) error
	setApprovalStatusFn    func(ctx context.Context, id string, status model.ApprovalStatus) error
	softDeleteFn           func(ctx context.Context, id string, at time.Time) error
	restoreFn              func(ctx context.Context, id string) error
	hardDeleteFn           func(ctx context.Context, id string) error
}

func (m *mockOrgRepo) Create(ctx context.Context, org *model.Organization) error {
	if m.createFn != nil {
		return m.createFn(ctx, org)
	}
	return nil
}

func (m *mockOrgRepo) GetByID(ctx context.Context, id string) (*model.Organization, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockOrgRepo) List(ctx context.Context, limit, offset int) ([]*model.Organization, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, offset)
	}
	return nil, nil
}

func (m *mockOrgRepo) UpdatePlan(ctx context.Context, id string, upd repository.PlanUpdate) error {
	if m.updatePlanFn != nil {
		return m.updatePlanFn(ctx, id, upd)
	}
	return nil
}

func (m *mockOrgRepo) Downgrade(ctx context.Context, id string) error {
	if m.downgradeFn != nil {
		return m.downgradeFn(ctx, id)
	}
	return nil
}

func (m *mockOrgRepo) UpdateManualPriority(ctx context.Context, id string, upd repository.ManualPriorityUpdate) error {
	if m.updateManualPriorityFn != nil {
		return m.updateManualPriorityFn(ctx, id, upd)
	}
	return nil
}

func (m *mockOrgRepo) SetRestricted(ctx context.Context, id string, restricted bool) error {
	if m.setRestrictedFn != nil {
		return m.setRestrictedFn(ctx, id, restricted)
	}
	return nil
}

func (m *mockOrgRepo) SetApprovalStatus(ctx context.Context, id string, status model.ApprovalStatus) error {
	if m.setApprovalStatusFn != nil {
		return m.setApprovalStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockOrgRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if m.softDeleteFn != nil {
		return m.softDeleteFn(ctx, id, at)
	}
	return nil
}

func (m *mockOrgRepo) Restore(ctx context.Context, id string) error {
	if m.restoreFn != nil {
		return m.restoreFn(ctx, id)
	}
	return nil
}

func (m *mockOrgRepo) HardDelete(ctx context.Context, id string) error {
	if m.hardDeleteFn != nil {
		return m.hardDeleteFn(ctx, id)
	}
	return nil
}

// mockTrialRepo — мок TrialRepository.
type mockTrialRepo struct {
	createFn            func(ctx context.Context, t *model.TrialSession) error
	getLatestFn         func(ctx context.Context, orgID string) (*model.TrialSession, error)
	markExpiredBeforeFn func(ctx context.Context, now time.Time) (int, error)
}

func (m *mockTrialRepo) Create(ctx context.Context, t *model.TrialSession) error {
	if m.createFn != nil {
		return m.createFn(ctx, t)
	}
	return nil
}

func (m *mockTrialRepo) GetLatestByOrganization(ctx context.Context, orgID string) (*model.TrialSession, error) {
	if m.getLatestFn != nil {
		return m.getLatestFn(ctx, orgID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockTrialRepo) MarkExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	if m.markExpiredBeforeFn != nil {
		return m.markExpiredBeforeFn(ctx, now)
	}
	return 0, nil
}

// mockCategoryRepo — мок CategoryRepository.
type mockCategoryRepo struct {
	listActiveFn func(ctx context.Context) ([]*model.Category, error)
	getByIDFn    func(ctx context.Context, id string) (*model.Category, error)
}

func (m *mockCategoryRepo) ListActive(ctx context.Context) ([]*model.Category, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockCategoryRepo) GetByID(ctx context.Context, id string) (*model.Category, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

// mockCountryRepo — мок CountryRepository.
type mockCountryRepo struct {
	resolveISOFn func(ctx context.Context, isoOrID string) (string, error)
}

func (m *mockCountryRepo) ResolveISO(ctx context.Context, isoOrID string) (string, error) {
	if m.resolveISOFn != nil {
		return m.resolveISOFn(ctx, isoOrID)
	}
	return "", repository.ErrNotFound
}

// mockSiteRepo — мок SiteRepository.
type mockSiteRepo struct {
	createFn                func(ctx context.Context, site *model.Site) error
	getByIDFn               func(ctx context.Context, id string) (*model.Site, error)
	getWithOwnerFn          func(ctx context.Context, id string) (*repository.SiteWithOwner, error)
	listByOrganizationFn    func(ctx context.Context, orgID string) ([]*model.Site, error)
	listWithOwnerBatchFn    func(ctx context.Context, afterID string, limit int) ([]*repository.SiteWithOwner, error)
	setVerificationStatusFn func(ctx context.Context, id string, status model.VerificationStatus) error
	updateFn                func(ctx context.Context, site *model.Site) error
	deleteFn                func(ctx context.Context, id string) error
}

func (m *mockSiteRepo) Create(ctx context.Context, site *model.Site) error {
	if m.createFn != nil {
		return m.createFn(ctx, site)
	}
	return nil
}

func (m *mockSiteRepo) GetByID(ctx context.Context, id string) (*model.Site, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockSiteRepo) GetWithOwner(ctx context.Context, id string) (*repository.SiteWithOwner, error) {
	if m.getWithOwnerFn != nil {
		return m.getWithOwnerFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockSiteRepo) ListByOrganization(ctx context.Context, orgID string) ([]*model.Site, error) {
	if m.listByOrganizationFn != nil {
		return m.listByOrganizationFn(ctx, orgID)
	}
	return nil, nil
}

func (m *mockSiteRepo) ListWithOwnerBatch(ctx context.Context, afterID string, limit int) ([]*repository.SiteWithOwner, error) {
	if m.listWithOwnerBatchFn != nil {
		return m.listWithOwnerBatchFn(ctx, afterID, limit)
	}
	return nil, nil
}

func (m *mockSiteRepo) SetVerificationStatus(ctx context.Context, id string, status model.VerificationStatus) error {
	if m.setVerificationStatusFn != nil {
		return m.setVerificationStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockSiteRepo) Update(ctx context.Context, site *model.Site) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, site)
	}
	return nil
}

func (m *mockSiteRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockIndex — мок search.Index.
type mockIndex struct {
	queryFn          func(ctx context.Context, query, filter string, limit, offset int) (*search.QueryResult, error)
	browseFn         func(ctx context.Context, filter string, sort []string, limit, offset int) (*search.QueryResult, error)
	upsertFn         func(ctx context.Context, docs []search.SiteDocument) error
	deleteFn         func(ctx context.Context, ids []string) error
	ensureSettingsFn func(ctx context.Context) error
}

func (m *mockIndex) Query(ctx context.Context, query, filter string, limit, offset int) (*search.QueryResult, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, query, filter, limit, offset)
	}
	return &search.QueryResult{}, nil
}

func (m *mockIndex) Browse(ctx context.Context, filter string, sort []string, limit, offset int) (*search.QueryResult, error) {
	if m.browseFn != nil {
		return m.browseFn(ctx, filter, sort, limit, offset)
	}
	return &search.QueryResult{}, nil
}

func (m *mockIndex) Upsert(ctx context.Context, docs []search.SiteDocument) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, docs)
	}
	return nil
}

func (m *mockIndex) Delete(ctx context.Context, ids []string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ids)
	}
	return nil
}

func (m *mockIndex) EnsureSettings(ctx context.Context) error {
	if m.ensureSettingsFn != nil {
		return m.ensureSettingsFn(ctx)
	}
	return nil
}
