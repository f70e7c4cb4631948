package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
	"github.com/bigkaa/sitedir/directory-module/internal/search"
)

var testActor = Actor{ID: "admin-1", Role: "admin"}

// newOrgService собирает OrganizationService на моках.
// inTx по умолчанию выполняет fn над тем же мок-репозиторием (без транзакции).
func newOrgService(orgRepo *mockOrgRepo, trialRepo *mockTrialRepo, index *mockIndex, sites *mockSiteRepo) *OrganizationService {
	indexer := newIndexerService(index, sites)
	audit := NewAuditService(&memAuditRepo{}, slog.Default())

	svc := &OrganizationService{
		orgRepo:   orgRepo,
		trialRepo: trialRepo,
		indexer:   indexer,
		audit:     audit,
		logger:    slog.Default(),
		inTx: func(ctx context.Context, fn func(repo repository.OrganizationRepository) error) error {
			return fn(orgRepo)
		},
		now: func() time.Time { return testNow },
	}
	return svc
}

func TestOrganizationService_Create_FreeInvariant(t *testing.T) {
	var created *model.Organization
	orgRepo := &mockOrgRepo{
		createFn: func(_ context.Context, org *model.Organization) error {
			created = org
			return nil
		},
	}
	svc := newOrgService(orgRepo, &mockTrialRepo{}, &mockIndex{}, &mockSiteRepo{})

	org, err := svc.Create(context.Background(), testActor, CreateOrganizationInput{
		Name: "Acme",
	})
	if err != nil {
		t.Fatalf("Create ошибка: %v", err)
	}

	if created == nil {
		t.Fatal("репозиторий не получил организацию")
	}
	if org.PlanType != model.PlanFree {
		t.Errorf("PlanType = %s, ожидался FREE по умолчанию", org.PlanType)
	}
	if org.PaidTermEndAt != nil || org.PlanStartAt != nil {
		t.Error("FREE-план не должен иметь сроков")
	}
	if org.PriorityOverride != nil {
		t.Error("FREE-план не должен иметь priority override")
	}
	if org.Status != model.ApprovalPending {
		t.Errorf("Status = %s, ожидался PENDING", org.Status)
	}
	if org.ID == "" {
		t.Error("ID пуст, ожидался UUID")
	}
}

func TestOrganizationService_Create_PaidRequiresTermEnd(t *testing.T) {
	svc := newOrgService(&mockOrgRepo{}, &mockTrialRepo{}, &mockIndex{}, &mockSiteRepo{})

	_, err := svc.Create(context.Background(), testActor, CreateOrganizationInput{
		Name:     "Acme",
		PlanType: model.PlanPro,
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
	}
}

func TestOrganizationService_UpdatePlan_OverrideOnlyEnterprise(t *testing.T) {
	svc := newOrgService(&mockOrgRepo{}, &mockTrialRepo{}, &mockIndex{}, &mockSiteRepo{})

	override := 3
	end := testNow.Add(365 * 24 * time.Hour)
	_, err := svc.UpdatePlan(context.Background(), testActor, "org-1", PlanChange{
		PlanType:         model.PlanPro,
		PaidTermEndAt:    &end,
		PriorityOverride: &override,
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation (override не для ENTERPRISE)", err)
	}
}

// TestOrganizationService_UpdatePlan_FreeResetsTerm — перевод на FREE
// записывает инвариант FREE: без сроков, ACTIVE, без override.
func TestOrganizationService_UpdatePlan_FreeResetsTerm(t *testing.T) {
	var got repository.PlanUpdate
	orgRepo := &mockOrgRepo{
		updatePlanFn: func(_ context.Context, _ string, upd repository.PlanUpdate) error {
			got = upd
			return nil
		},
	}
	svc := newOrgService(orgRepo, &mockTrialRepo{}, &mockIndex{}, &mockSiteRepo{})

	_, err := svc.UpdatePlan(context.Background(), testActor, "org-1", PlanChange{
		PlanType: model.PlanFree,
	})
	if err != nil {
		t.Fatalf("UpdatePlan ошибка: %v", err)
	}

	if got.PlanType != model.PlanFree || got.PlanStatus != model.PlanStatusActive {
		t.Errorf("проекция = %+v, ожидался FREE/ACTIVE", got)
	}
	if got.PaidTermEndAt != nil || got.PlanStartAt != nil || got.PriorityOverride != nil {
		t.Error("FREE-проекция должна обнулять сроки и override")
	}
	if got.SupportTier != model.SupportNone {
		t.Errorf("SupportTier = %s, ожидался NONE", got.SupportTier)
	}
}

// TestOrganizationService_UpdatePlan_Reindexes — после смены плана сайты
// организации реиндексируются.
func TestOrganizationService_UpdatePlan_Reindexes(t *testing.T) {
	orgID := "org-1"
	sites := &mockSiteRepo{
		listByOrganizationFn: func(_ context.Context, _ string) ([]*model.Site, error) {
			return []*model.Site{verifiedSite("site-1", &orgID)}, nil
		},
		getWithOwnerFn: func(_ context.Context, id string) (*repository.SiteWithOwner, error) {
			return &repository.SiteWithOwner{
				Site:  verifiedSite(id, &orgID),
				Owner: approvedOrg(model.PlanBusiness),
			}, nil
		},
	}

	upserts := 0
	index := &mockIndex{
		upsertFn: func(_ context.Context, _ []search.SiteDocument) error {
			upserts++
			return nil
		},
	}
	svc := newOrgService(&mockOrgRepo{}, &mockTrialRepo{}, index, sites)

	end := testNow.Add(365 * 24 * time.Hour)
	failures, err := svc.UpdatePlan(context.Background(), testActor, orgID, PlanChange{
		PlanType:      model.PlanBusiness,
		PaidTermEndAt: &end,
	})
	if err != nil {
		t.Fatalf("UpdatePlan ошибка: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("ошибки реиндексации: %v", failures)
	}
	if upserts != 1 {
		t.Errorf("Upsert вызван %d раз, ожидался 1", upserts)
	}
}

// TestOrganizationService_BulkUpdatePlan_TxAbortsOnError — ошибка внутри
// транзакции прерывает bulk-операцию целиком, реиндексация не запускается.
func TestOrganizationService_BulkUpdatePlan_TxAbortsOnError(t *testing.T) {
	calls := 0
	orgRepo := &mockOrgRepo{
		updatePlanFn: func(_ context.Context, id string, _ repository.PlanUpdate) error {
			calls++
			if id == "org-2" {
				return repository.ErrNotFound
			}
			return nil
		},
	}
	sites := &mockSiteRepo{
		listByOrganizationFn: func(_ context.Context, _ string) ([]*model.Site, error) {
			t.Error("реиндексация не должна запускаться при откате транзакции")
			return nil, nil
		},
	}
	svc := newOrgService(orgRepo, &mockTrialRepo{}, &mockIndex{}, sites)

	end := testNow.Add(30 * 24 * time.Hour)
	_, err := svc.BulkUpdatePlan(context.Background(), testActor,
		[]string{"org-1", "org-2", "org-3"}, PlanChange{
			PlanType:      model.PlanPro,
			PaidTermEndAt: &end,
		})
	if err == nil {
		t.Fatal("ожидалась ошибка bulk-операции")
	}
	if calls != 2 {
		t.Errorf("UpdatePlan вызван %d раз, ожидалось 2 (остановка на org-2)", calls)
	}
}

// TestOrganizationService_BulkUpdatePlan_ReindexFailuresCollected —
// ошибки реиндексации собираются, bulk-операция успешна.
func TestOrganizationService_BulkUpdatePlan_ReindexFailuresCollected(t *testing.T) {
	org1, org2 := "org-1", "org-2"
	sites := &mockSiteRepo{
		listByOrganizationFn: func(_ context.Context, orgID string) ([]*model.Site, error) {
			return []*model.Site{verifiedSite("site-"+orgID, &orgID)}, nil
		},
		getWithOwnerFn: func(_ context.Context, id string) (*repository.SiteWithOwner, error) {
			if id == "site-org-2" {
				return nil, errors.New("временная ошибка БД")
			}
			owner := approvedOrg(model.PlanPro)
			return &repository.SiteWithOwner{Site: verifiedSite(id, &org1), Owner: owner}, nil
		},
	}
	svc := newOrgService(&mockOrgRepo{}, &mockTrialRepo{}, &mockIndex{}, sites)

	end := testNow.Add(30 * 24 * time.Hour)
	result, err := svc.BulkUpdatePlan(context.Background(), testActor,
		[]string{org1, org2}, PlanChange{
			PlanType:      model.PlanPro,
			PaidTermEndAt: &end,
		})
	if err != nil {
		t.Fatalf("BulkUpdatePlan ошибка: %v", err)
	}

	if result.Updated != 2 {
		t.Errorf("Updated = %d, ожидалось 2 (БД отражает мутацию целиком)", result.Updated)
	}
	if len(result.ReindexFailures) != 1 {
		t.Fatalf("ошибок реиндексации %d, ожидалась 1", len(result.ReindexFailures))
	}
	if result.ReindexFailures[0].SiteID != "site-org-2" {
		t.Errorf("ошибка для %s, ожидался site-org-2", result.ReindexFailures[0].SiteID)
	}
}

// TestOrganizationService_StartTrial_ConflictWhenActive — второй активный
// триал не создаётся.
func TestOrganizationService_StartTrial_ConflictWhenActive(t *testing.T) {
	orgRepo := &mockOrgRepo{
		getByIDFn: func(_ context.Context, _ string) (*model.Organization, error) {
			return approvedOrg(model.PlanFree), nil
		},
	}
	trialRepo := &mockTrialRepo{
		getLatestFn: func(_ context.Context, _ string) (*model.TrialSession, error) {
			return &model.TrialSession{
				ID: "trial-1", Status: model.TrialActive,
				EndsAt: testNow.Add(24 * time.Hour),
			}, nil
		},
	}
	svc := newOrgService(orgRepo, trialRepo, &mockIndex{}, &mockSiteRepo{})

	_, err := svc.StartTrial(context.Background(), testActor, "org-1", 14*24*time.Hour)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ошибка = %v, ожидалась ErrConflict", err)
	}
}

func TestOrganizationService_StartTrial_AfterExpired(t *testing.T) {
	orgRepo := &mockOrgRepo{
		getByIDFn: func(_ context.Context, _ string) (*model.Organization, error) {
			return approvedOrg(model.PlanFree), nil
		},
	}
	var created *model.TrialSession
	trialRepo := &mockTrialRepo{
		getLatestFn: func(_ context.Context, _ string) (*model.TrialSession, error) {
			return &model.TrialSession{
				ID: "trial-old", Status: model.TrialExpired,
				EndsAt: testNow.Add(-24 * time.Hour),
			}, nil
		},
		createFn: func(_ context.Context, tr *model.TrialSession) error {
			created = tr
			return nil
		},
	}
	svc := newOrgService(orgRepo, trialRepo, &mockIndex{}, &mockSiteRepo{})

	trial, err := svc.StartTrial(context.Background(), testActor, "org-1", 14*24*time.Hour)
	if err != nil {
		t.Fatalf("StartTrial ошибка: %v", err)
	}
	if created == nil {
		t.Fatal("триал не создан")
	}
	if trial.Status != model.TrialActive {
		t.Errorf("Status = %s, ожидался ACTIVE", trial.Status)
	}
	want := testNow.Add(14 * 24 * time.Hour)
	if !trial.EndsAt.Equal(want) {
		t.Errorf("EndsAt = %v, ожидалось %v", trial.EndsAt, want)
	}
}
