package model

import "time"

// AuditEntry — неизменяемая запись журнала действий администраторов.
// Хранится в таблице audit_log (append-only). Каждая запись через
// CurrentHash коммитит PrevHash плюс собственные поля — изменение
// любой записи обнаруживается при replay цепочки.
type AuditEntry struct {
	// ID — ULID записи (лексикографически сортируется по времени добавления)
	ID string
	// ActorID — идентификатор действующего лица
	ActorID string
	// ActorRole — роль действующего лица (может быть пустой)
	ActorRole string
	// Action — вид действия (e.g. "organization.update_plan")
	Action string
	// Entity — имя сущности (e.g. "organization")
	Entity string
	// TargetID — идентификатор целевой записи (может быть пустым)
	TargetID string
	// Details — свободный текст с деталями действия
	Details string
	// Snapshot — структурированный снимок изменения (JSON, может быть пустым)
	Snapshot []byte
	// PrevHash — CurrentHash предыдущей записи цепочки
	// (genesis-sentinel для первой записи)
	PrevHash string
	// CurrentHash — SHA-256 от PrevHash и полей записи
	CurrentHash string
	// CreatedAt — время добавления записи
	CreatedAt time.Time
}

// ChainReport — результат проверки целостности цепочки аудита.
type ChainReport struct {
	// IsValid — цепочка корректна (оба счётчика равны нулю)
	IsValid bool
	// Checked — количество проверенных записей
	Checked int
	// LinkMismatch — количество записей, чей сохранённый PrevHash
	// расходится с ожидаемым по replay (вставка вне порядка или подмена)
	LinkMismatch int
	// HashMismatch — количество записей, чей CurrentHash не совпадает
	// с пересчитанным (изменение полей записи)
	HashMismatch int
	// LegacyCount — количество записей без хэшей (созданы до включения цепочки)
	LegacyCount int
}
