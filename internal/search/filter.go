package search

import (
	"strconv"
	"strings"
)

// Filter — построитель фильтр-выражений Meilisearch.
// Собирает условия через AND с экранированием значений —
// вместо ручной конкатенации строк в местах вызова.
type Filter struct {
	conds []string
}

// NewFilter создаёт пустой построитель фильтра.
func NewFilter() *Filter {
	return &Filter{}
}

// Eq добавляет условие равенства строковому значению.
func (f *Filter) Eq(attr, value string) *Filter {
	f.conds = append(f.conds, attr+" = "+quote(value))
	return f
}

// EqBool добавляет условие равенства булеву значению.
func (f *Filter) EqBool(attr string, value bool) *Filter {
	f.conds = append(f.conds, attr+" = "+strconv.FormatBool(value))
	return f
}

// AnyOf добавляет условие равенства одному из строковых значений (OR).
func (f *Filter) AnyOf(attr string, values ...string) *Filter {
	if len(values) == 0 {
		return f
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, attr+" = "+quote(v))
	}
	f.conds = append(f.conds, "("+strings.Join(parts, " OR ")+")")
	return f
}

// Pair — пара атрибут/значение для кросс-атрибутной группы OR.
type Pair struct {
	Attr  string
	Value string
}

// AnyPair добавляет условие равенства по одной из пар атрибут/значение (OR).
func (f *Filter) AnyPair(pairs ...Pair) *Filter {
	if len(pairs) == 0 {
		return f
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.Attr+" = "+quote(p.Value))
	}
	f.conds = append(f.conds, "("+strings.Join(parts, " OR ")+")")
	return f
}

// String возвращает итоговое выражение. Пустой фильтр — пустая строка.
func (f *Filter) String() string {
	return strings.Join(f.conds, " AND ")
}

// quote экранирует строковое значение для фильтр-выражения.
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
