package model

import "time"

// VerificationStatus — статус верификации сайта.
type VerificationStatus string

// Статусы верификации.
const (
	VerificationPending VerificationStatus = "PENDING"
	VerificationSuccess VerificationStatus = "SUCCESS"
	VerificationFailed  VerificationStatus = "FAILED"
	VerificationFlagged VerificationStatus = "FLAGGED"
)

// Site — сайт в каталоге.
// Хранится в таблице sites. Сайт принадлежит не более чем одной
// организации (OrganizationID = nil — независимый сайт).
type Site struct {
	// ID — UUID записи
	ID string
	// OrganizationID — UUID организации-владельца (nil = независимый сайт)
	OrganizationID *string
	// Name — название сайта
	Name string
	// WebsiteURL — адрес сайта
	WebsiteURL string
	// CategoryID — UUID категории (nil = без категории)
	CategoryID *string
	// CountryISO — ISO-3166 alpha-2 код страны
	CountryISO string
	// StateID — UUID региона (nil = без региона)
	StateID *string
	// VerificationStatus — статус верификации (PENDING, SUCCESS, FAILED, FLAGGED)
	VerificationStatus VerificationStatus
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// TrialStatus — статус триальной сессии.
type TrialStatus string

// Статусы триала.
const (
	TrialActive  TrialStatus = "ACTIVE"
	TrialExpired TrialStatus = "EXPIRED"
)

// TrialSession — триальная сессия организации.
// Активный триал даёт PRO-эквивалентные права без приоритетного буста.
type TrialSession struct {
	// ID — UUID записи
	ID string
	// OrganizationID — UUID организации
	OrganizationID string
	// Status — статус (ACTIVE, EXPIRED)
	Status TrialStatus
	// EndsAt — время окончания триала
	EndsAt time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
}

// IsActiveAt сообщает, действует ли триал в момент now.
func (t *TrialSession) IsActiveAt(now time.Time) bool {
	return t != nil && t.Status == TrialActive && t.EndsAt.After(now)
}
