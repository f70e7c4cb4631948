package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
)

// testNow — фиксированный момент для детерминированных тестов.
var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// approvedOrg возвращает базовую организацию APPROVED без ограничений.
func approvedOrg(plan model.PlanType) *model.Organization {
	org := &model.Organization{
		ID:             "org-1",
		Name:           "Test Org",
		PlanType:       plan,
		PlanStatus:     model.PlanStatusActive,
		Status:         model.ApprovalApproved,
		ManualPriority: model.PriorityNormal,
		SupportTier:    model.SupportStandard,
	}
	if plan != model.PlanFree {
		start := testNow.Add(-15 * 24 * time.Hour)
		end := testNow.Add(30 * 24 * time.Hour)
		org.PlanStartAt = &start
		org.PaidTermEndAt = &end
	} else {
		org.PlanStatus = model.PlanStatusActive
		org.SupportTier = model.SupportNone
	}
	return org
}

func resolve(org *model.Organization, trial *model.TrialSession) model.EntitlementBundle {
	lc := ComputeLifecycle(org.PlanType, org.PaidTermEndAt, testNow, org.GraceSuppressed)
	return ResolveEntitlements(org, trial, lc, testNow)
}

// TestResolveEntitlements_ProBoostWindow — PRO в 30-дневном окне после
// старта плана получает HIGH и ADVANCED-аналитику с экспортом.
func TestResolveEntitlements_ProBoostWindow(t *testing.T) {
	org := approvedOrg(model.PlanPro)

	b := resolve(org, nil)

	if b.PriorityLevel != model.PriorityHigh {
		t.Errorf("PriorityLevel = %s, ожидался HIGH (15 дней от старта PRO)", b.PriorityLevel)
	}
	if b.AnalyticsLevel != model.AnalyticsAdvanced {
		t.Errorf("AnalyticsLevel = %s, ожидался ADVANCED", b.AnalyticsLevel)
	}
	if !b.CanExportReports {
		t.Error("CanExportReports = false, ожидался true для оплаченного PRO")
	}
}

// TestResolveEntitlements_ProBoostElapsed — после 30 дней приоритет NORMAL,
// остальные права не меняются.
func TestResolveEntitlements_ProBoostElapsed(t *testing.T) {
	org := approvedOrg(model.PlanPro)
	start := testNow.Add(-40 * 24 * time.Hour)
	org.PlanStartAt = &start

	b := resolve(org, nil)

	if b.PriorityLevel != model.PriorityNormal {
		t.Errorf("PriorityLevel = %s, ожидался NORMAL (окно буста истекло)", b.PriorityLevel)
	}
	if b.AnalyticsLevel != model.AnalyticsAdvanced {
		t.Errorf("AnalyticsLevel = %s, ожидался ADVANCED", b.AnalyticsLevel)
	}
	if !b.CanExportReports {
		t.Error("CanExportReports = false, ожидался true")
	}
}

// TestResolveEntitlements_AnalyticsMonotonic — уровень аналитики не убывает
// с ростом плана при фиксированной модерации/ограничениях.
func TestResolveEntitlements_AnalyticsMonotonic(t *testing.T) {
	plans := []model.PlanType{
		model.PlanFree, model.PlanBasic, model.PlanPro,
		model.PlanBusiness, model.PlanEnterprise,
	}

	prev := -1
	for _, plan := range plans {
		b := resolve(approvedOrg(plan), nil)
		order := b.AnalyticsLevel.Order()
		if order < prev {
			t.Errorf("AnalyticsLevel убывает на плане %s: %s", plan, b.AnalyticsLevel)
		}
		prev = order
	}
}

// TestResolveEntitlements_PriorityFloor — ограниченные и немодерированные
// организации получают LOW независимо от плана и ручного приоритета.
func TestResolveEntitlements_PriorityFloor(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Organization)
	}{
		{"restricted", func(o *model.Organization) { o.IsRestricted = true }},
		{"pending", func(o *model.Organization) { o.Status = model.ApprovalPending }},
		{"rejected", func(o *model.Organization) { o.Status = model.ApprovalRejected }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org := approvedOrg(model.PlanBusiness)
			org.ManualPriority = model.PriorityHigh
			tt.mutate(org)

			b := resolve(org, nil)

			if b.PriorityLevel != model.PriorityLow {
				t.Errorf("PriorityLevel = %s, ожидался LOW", b.PriorityLevel)
			}
		})
	}
}

// TestResolveEntitlements_EnterpriseOverride — override ENTERPRISE абсолютен
// и не сливается с ручным приоритетом.
func TestResolveEntitlements_EnterpriseOverride(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name     string
		override *int
		want     model.PriorityLevel
	}{
		{"nil override — HIGH", nil, model.PriorityHigh},
		{"override 3 — HIGH", intPtr(3), model.PriorityHigh},
		{"override 2 — MEDIUM", intPtr(2), model.PriorityMedium},
		{"override 1 — NORMAL", intPtr(1), model.PriorityNormal},
		{"override 0 — LOW", intPtr(0), model.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org := approvedOrg(model.PlanEnterprise)
			org.PriorityOverride = tt.override
			// Ручной HIGH не должен перебивать абсолютный override
			org.ManualPriority = model.PriorityHigh

			b := resolve(org, nil)

			if b.PriorityLevel != tt.want {
				t.Errorf("PriorityLevel = %s, ожидался %s", b.PriorityLevel, tt.want)
			}
		})
	}
}

// TestResolveEntitlements_ManualPriorityMerge — ручной приоритет сливается
// по максимуму веса для не-ENTERPRISE планов.
func TestResolveEntitlements_ManualPriorityMerge(t *testing.T) {
	// BASIC вычисляет NORMAL; ручной HIGH побеждает
	org := approvedOrg(model.PlanBasic)
	org.ManualPriority = model.PriorityHigh

	b := resolve(org, nil)
	if b.PriorityLevel != model.PriorityHigh {
		t.Errorf("PriorityLevel = %s, ожидался HIGH (ручной приоритет)", b.PriorityLevel)
	}

	// BUSINESS вычисляет HIGH; ручной LOW не понижает
	org = approvedOrg(model.PlanBusiness)
	org.ManualPriority = model.PriorityLow

	b = resolve(org, nil)
	if b.PriorityLevel != model.PriorityHigh {
		t.Errorf("PriorityLevel = %s, ожидался HIGH (merge по максимуму)", b.PriorityLevel)
	}
}

// TestResolveEntitlements_ManualPriorityExpired — истёкший ручной приоритет
// деградирует до NORMAL перед слиянием.
func TestResolveEntitlements_ManualPriorityExpired(t *testing.T) {
	org := approvedOrg(model.PlanBasic)
	org.ManualPriority = model.PriorityHigh
	expired := testNow.Add(-time.Hour)
	org.ManualPriorityExpiresAt = &expired

	b := resolve(org, nil)

	if b.PriorityLevel != model.PriorityNormal {
		t.Errorf("PriorityLevel = %s, ожидался NORMAL (ручной приоритет истёк)", b.PriorityLevel)
	}
}

// TestResolveEntitlements_TrialGrantsProWithoutExport — активный триал даёт
// PRO-эквивалентные права без экспорта и с приоритетом NORMAL.
func TestResolveEntitlements_TrialGrantsProWithoutExport(t *testing.T) {
	org := approvedOrg(model.PlanFree)
	trialEnd := testNow.Add(7 * 24 * time.Hour)
	trial := &model.TrialSession{
		ID:             "trial-1",
		OrganizationID: org.ID,
		Status:         model.TrialActive,
		EndsAt:         trialEnd,
	}

	b := resolve(org, trial)

	if !b.IsTrial {
		t.Error("IsTrial = false, ожидался true")
	}
	if b.AnalyticsLevel != model.AnalyticsAdvanced {
		t.Errorf("AnalyticsLevel = %s, ожидался ADVANCED (триальный PRO)", b.AnalyticsLevel)
	}
	if b.CanExportReports {
		t.Error("CanExportReports = true, триал не разрешает экспорт")
	}
	if b.PriorityLevel != model.PriorityNormal {
		t.Errorf("PriorityLevel = %s, ожидался NORMAL для триала", b.PriorityLevel)
	}
}

// TestResolveEntitlements_ExpiredTrial — истёкший триал не даёт прав.
func TestResolveEntitlements_ExpiredTrial(t *testing.T) {
	org := approvedOrg(model.PlanFree)
	trialEnd := testNow.Add(-time.Hour)
	trial := &model.TrialSession{
		ID:             "trial-1",
		OrganizationID: org.ID,
		Status:         model.TrialActive,
		EndsAt:         trialEnd,
	}

	b := resolve(org, trial)

	if b.IsTrial {
		t.Error("IsTrial = true, триал истёк")
	}
	if b.AnalyticsLevel != model.AnalyticsNone {
		t.Errorf("AnalyticsLevel = %s, ожидался NONE", b.AnalyticsLevel)
	}
	if b.PriorityLevel != model.PriorityLow {
		t.Errorf("PriorityLevel = %s, ожидался LOW", b.PriorityLevel)
	}
}

// --- Тесты EntitlementService (авто-даунгрейд) ---

func newEntitlementService(orgRepo *mockOrgRepo, trialRepo *mockTrialRepo) *EntitlementService {
	svc := NewEntitlementService(orgRepo, trialRepo, slog.Default())
	svc.now = func() time.Time { return testNow }
	return svc
}

// TestEntitlementService_AutoDowngrade — истёкший план переводится на FREE
// при чтении, bundle отражает истёкшее состояние.
func TestEntitlementService_AutoDowngrade(t *testing.T) {
	org := approvedOrg(model.PlanPro)
	// Срок и грейс-период полностью истекли
	end := testNow.Add(-20 * 24 * time.Hour)
	start := testNow.Add(-50 * 24 * time.Hour)
	org.PaidTermEndAt = &end
	org.PlanStartAt = &start

	downgraded := false
	orgRepo := &mockOrgRepo{
		getByIDFn: func(_ context.Context, _ string) (*model.Organization, error) {
			return org, nil
		},
		downgradeFn: func(_ context.Context, id string) error {
			if id != "org-1" {
				t.Errorf("Downgrade вызван для %q, ожидался org-1", id)
			}
			downgraded = true
			return nil
		},
	}

	svc := newEntitlementService(orgRepo, &mockTrialRepo{})

	b, err := svc.Resolve(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Resolve ошибка: %v", err)
	}

	if !downgraded {
		t.Error("ожидался вызов Downgrade для истёкшего плана")
	}
	if !b.IsExpired {
		t.Error("IsExpired = false, ожидался true")
	}
	if b.AnalyticsLevel != model.AnalyticsNone {
		t.Errorf("AnalyticsLevel = %s, ожидался NONE после даунгрейда", b.AnalyticsLevel)
	}
	if b.SupportTier != model.SupportNone {
		t.Errorf("SupportTier = %s, ожидался NONE после даунгрейда", b.SupportTier)
	}
}

// TestEntitlementService_NoDowngradeInGrace — в грейс-периоде план не
// понижается и права сохраняются.
func TestEntitlementService_NoDowngradeInGrace(t *testing.T) {
	org := approvedOrg(model.PlanPro)
	// Срок истёк 2 дня назад, 7-дневный грейс ещё действует
	end := testNow.Add(-2 * 24 * time.Hour)
	org.PaidTermEndAt = &end

	orgRepo := &mockOrgRepo{
		getByIDFn: func(_ context.Context, _ string) (*model.Organization, error) {
			return org, nil
		},
		downgradeFn: func(_ context.Context, _ string) error {
			t.Error("Downgrade не должен вызываться в грейс-периоде")
			return nil
		},
	}

	svc := newEntitlementService(orgRepo, &mockTrialRepo{})

	b, err := svc.Resolve(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Resolve ошибка: %v", err)
	}

	if !b.IsInGrace {
		t.Error("IsInGrace = false, ожидался true")
	}
	if b.IsExpired {
		t.Error("IsExpired = true, ожидался false в грейс-периоде")
	}
	if b.AnalyticsLevel != model.AnalyticsAdvanced {
		t.Errorf("AnalyticsLevel = %s, ожидался ADVANCED (права в грейс-периоде)", b.AnalyticsLevel)
	}
}

// TestEntitlementService_NotFound — отсутствующая организация.
func TestEntitlementService_NotFound(t *testing.T) {
	orgRepo := &mockOrgRepo{
		getByIDFn: func(_ context.Context, _ string) (*model.Organization, error) {
			return nil, repository.ErrNotFound
		},
	}

	svc := newEntitlementService(orgRepo, &mockTrialRepo{})

	_, err := svc.Resolve(context.Background(), "missing")
	if err != ErrOrganizationNotFound {
		t.Errorf("ошибка = %v, ожидалась ErrOrganizationNotFound", err)
	}
}
