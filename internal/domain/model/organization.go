// Пакет model — доменные сущности Directory Module.
package model

import "time"

// PlanType — тип тарифного плана организации.
type PlanType string

// Тарифные планы (по возрастанию).
const (
	PlanFree       PlanType = "FREE"
	PlanBasic      PlanType = "BASIC"
	PlanPro        PlanType = "PRO"
	PlanBusiness   PlanType = "BUSINESS"
	PlanEnterprise PlanType = "ENTERPRISE"
)

// planOrder — порядок планов для сравнения (FREE < BASIC < PRO < BUSINESS < ENTERPRISE).
var planOrder = map[PlanType]int{
	PlanFree:       0,
	PlanBasic:      1,
	PlanPro:        2,
	PlanBusiness:   3,
	PlanEnterprise: 4,
}

// Order возвращает порядковый номер плана для сравнения.
// Неизвестный план трактуется как FREE.
func (p PlanType) Order() int {
	return planOrder[p]
}

// Valid проверяет, что значение — известный тип плана.
func (p PlanType) Valid() bool {
	_, ok := planOrder[p]
	return ok
}

// PlanStatus — статус тарифного плана.
type PlanStatus string

// Статусы плана.
const (
	PlanStatusActive  PlanStatus = "ACTIVE"
	PlanStatusExpired PlanStatus = "EXPIRED"
)

// ApprovalStatus — статус модерации организации.
type ApprovalStatus string

// Статусы модерации.
const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// PriorityLevel — уровень приоритета организации в поисковой выдаче.
type PriorityLevel string

// Уровни приоритета.
const (
	PriorityHigh   PriorityLevel = "HIGH"
	PriorityMedium PriorityLevel = "MEDIUM"
	PriorityNormal PriorityLevel = "NORMAL"
	PriorityLow    PriorityLevel = "LOW"
)

// priorityRank — ранг приоритета для сортировки выдачи (меньше = выше).
var priorityRank = map[PriorityLevel]int{
	PriorityHigh:   1,
	PriorityMedium: 2,
	PriorityNormal: 3,
	PriorityLow:    4,
}

// priorityScore — числовой вес приоритета для merge по максимуму.
var priorityScore = map[PriorityLevel]int{
	PriorityHigh:   3,
	PriorityMedium: 2,
	PriorityNormal: 1,
	PriorityLow:    0,
}

// Rank возвращает ранг приоритета для сортировки (HIGH=1 … LOW=4).
// Неизвестный уровень трактуется как LOW.
func (p PriorityLevel) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityLow]
}

// Score возвращает числовой вес приоритета (HIGH=3 … LOW=0).
func (p PriorityLevel) Score() int {
	return priorityScore[p]
}

// MaxPriority возвращает уровень с большим весом.
func MaxPriority(a, b PriorityLevel) PriorityLevel {
	if b.Score() > a.Score() {
		return b
	}
	return a
}

// Valid проверяет, что значение — известный уровень приоритета.
func (p PriorityLevel) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Organization — организация-участник каталога.
// Хранится в таблице organizations.
type Organization struct {
	// ID — UUID записи
	ID string
	// Name — название организации
	Name string
	// PlanType — тип тарифного плана
	PlanType PlanType
	// PlanStatus — статус плана (ACTIVE, EXPIRED)
	PlanStatus PlanStatus
	// PlanStartAt — начало оплаченного периода (nil для FREE)
	PlanStartAt *time.Time
	// PaidTermEndAt — конец оплаченного периода (nil для FREE)
	PaidTermEndAt *time.Time
	// GraceSuppressed — грейс-период подавлен (срок синхронизируется
	// управляющим enterprise-аккаунтом, его lifecycle — авторитетный)
	GraceSuppressed bool
	// ManualPriority — приоритет, выставленный администратором вручную
	ManualPriority PriorityLevel
	// ManualPriorityExpiresAt — срок действия ручного приоритета (nil = бессрочно)
	ManualPriorityExpiresAt *time.Time
	// PriorityOverride — числовой override приоритета (только ENTERPRISE, nil = не задан)
	PriorityOverride *int
	// IsRestricted — флаг ограничения (организация скрыта из выдачи)
	IsRestricted bool
	// Status — статус модерации (PENDING, APPROVED, REJECTED)
	Status ApprovalStatus
	// SupportTier — уровень поддержки (NONE, STANDARD, PRIORITY, DEDICATED)
	SupportTier SupportTier
	// DeletedAt — время soft delete (nil = не удалена)
	DeletedAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// IsApproved сообщает, прошла ли организация модерацию.
func (o *Organization) IsApproved() bool {
	return o.Status == ApprovalApproved
}

// IsDeleted сообщает, удалена ли организация (soft delete).
func (o *Organization) IsDeleted() bool {
	return o.DeletedAt != nil
}

// SupportTier — уровень технической поддержки.
type SupportTier string

// Уровни поддержки.
const (
	SupportNone      SupportTier = "NONE"
	SupportStandard  SupportTier = "STANDARD"
	SupportPriority  SupportTier = "PRIORITY"
	SupportDedicated SupportTier = "DEDICATED"
)

// AnalyticsLevel — уровень доступа к аналитике.
type AnalyticsLevel string

// Уровни аналитики (по возрастанию).
const (
	AnalyticsNone     AnalyticsLevel = "NONE"
	AnalyticsBasic    AnalyticsLevel = "BASIC"
	AnalyticsAdvanced AnalyticsLevel = "ADVANCED"
	AnalyticsBusiness AnalyticsLevel = "BUSINESS"
)

// analyticsOrder — порядок уровней аналитики для сравнения.
var analyticsOrder = map[AnalyticsLevel]int{
	AnalyticsNone:     0,
	AnalyticsBasic:    1,
	AnalyticsAdvanced: 2,
	AnalyticsBusiness: 3,
}

// Order возвращает порядковый номер уровня аналитики.
func (a AnalyticsLevel) Order() int {
	return analyticsOrder[a]
}

// Lifecycle — вычисленное состояние жизненного цикла оплаченного плана.
type Lifecycle struct {
	// GraceDays — длительность грейс-периода в днях
	GraceDays int
	// GraceEndsAt — конец грейс-периода (nil, если grace = 0 или срок не задан)
	GraceEndsAt *time.Time
	// IsInGrace — срок истёк, но грейс-период ещё действует
	IsInGrace bool
	// IsExpired — план окончательно истёк
	IsExpired bool
}

// EntitlementBundle — набор прав организации, вычисленный из плана,
// статуса модерации, ограничений и триала.
type EntitlementBundle struct {
	// CanShowBadge — можно показывать бейдж верификации
	CanShowBadge bool
	// CanAccessOrgPage — доступна страница организации
	CanAccessOrgPage bool
	// AnalyticsLevel — уровень доступа к аналитике
	AnalyticsLevel AnalyticsLevel
	// CanExportReports — доступен экспорт отчётов
	CanExportReports bool
	// SupportTier — уровень поддержки
	SupportTier SupportTier
	// PriorityLevel — итоговый приоритет в поисковой выдаче
	PriorityLevel PriorityLevel
	// IsExpired — оплаченный план истёк
	IsExpired bool
	// IsInGrace — действует грейс-период
	IsInGrace bool
	// IsTrial — права получены из активного триала
	IsTrial bool
}
