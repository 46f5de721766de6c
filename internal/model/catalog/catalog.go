// Package catalog defines the static IM hearing item table: which
// facts an M&A interview is expected to surface, grouped by category
// and by information layer. The table is fixed configuration; nothing
// here is computed at runtime.
package catalog

import (
	"fmt"
	"strings"
)

// Category groups extraction fields by IM chapter.
type Category string

const (
	BasicInfo    Category = "basic_info"
	Financial    Category = "financial"
	Business     Category = "business"
	Organization Category = "organization"
	Transfer     Category = "transfer"
)

// Categories returns all categories in catalog order.
func Categories() []Category {
	return []Category{BasicInfo, Financial, Business, Organization, Transfer}
}

// ParseCategory validates a raw category token.
func ParseCategory(raw string) (Category, bool) {
	switch Category(raw) {
	case BasicInfo, Financial, Business, Organization, Transfer:
		return Category(raw), true
	default:
		return "", false
	}
}

// Layer is one of the four information depths of the hearing method:
// surface < structure < essence < exit.
type Layer string

const (
	Surface   Layer = "surface"
	Structure Layer = "structure"
	Essence   Layer = "essence"
	Exit      Layer = "exit"
)

// Layers returns the layers in depth order.
func Layers() []Layer {
	return []Layer{Surface, Structure, Essence, Exit}
}

// ParseLayer validates a raw layer token.
func ParseLayer(raw string) (Layer, bool) {
	switch Layer(strings.TrimSpace(raw)) {
	case Surface, Structure, Essence, Exit:
		return Layer(strings.TrimSpace(raw)), true
	default:
		return "", false
	}
}

// Rank returns the depth index of a layer, with unknown layers sorting
// last.
func (l Layer) Rank() int {
	switch l {
	case Surface:
		return 0
	case Structure:
		return 1
	case Essence:
		return 2
	case Exit:
		return 3
	default:
		return 99
	}
}

// Field is one hearing item definition.
type Field struct {
	Category Category `json:"category"`
	Name     string   `json:"field"`
	Label    string   `json:"label"`
	Layer    Layer    `json:"layer"`
}

// Key returns the canonical "category.field" key.
func (f Field) Key() string {
	return string(f.Category) + "." + f.Name
}

// ParseKey splits a "category.field" key and validates the category.
// The field part is not required to exist in the catalog so manual
// entries can extend it.
func ParseKey(key string) (Category, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid field key %q: want category.field", key)
	}
	category, ok := ParseCategory(parts[0])
	if !ok {
		return "", "", fmt.Errorf("unknown category %q", parts[0])
	}
	return category, parts[1], nil
}

// items is the IM extraction item list (about 35 entries). Labels stay
// in Japanese because they are quoted verbatim in prompts and UI.
var items = []Field{
	{BasicInfo, "company_name", "会社名", Surface},
	{BasicInfo, "location", "所在地", Surface},
	{BasicInfo, "established_year", "設立年", Surface},
	{BasicInfo, "capital", "資本金", Surface},
	{BasicInfo, "employee_count", "従業員数", Surface},
	{BasicInfo, "representative", "代表者", Surface},
	{BasicInfo, "representative_profile", "代表者プロフィール", Structure},
	{BasicInfo, "history", "沿革", Structure},

	{Financial, "revenue_latest", "売上高（直近）", Surface},
	{Financial, "revenue_trend", "売上高推移（3-5期）", Structure},
	{Financial, "operating_profit", "営業利益", Surface},
	{Financial, "ordinary_profit", "経常利益", Surface},
	{Financial, "net_assets", "純資産", Surface},
	{Financial, "adjusted_net_assets", "調整後純資産", Structure},
	{Financial, "debt", "借入金", Surface},
	{Financial, "main_kpis", "主要KPI", Structure},

	{Business, "business_description", "事業内容", Surface},
	{Business, "main_products_services", "主要サービス/製品", Surface},
	{Business, "main_clients", "主要取引先", Structure},
	{Business, "client_composition", "顧客構成", Structure},
	{Business, "competitive_advantage", "競合優位性", Essence},
	{Business, "strengths", "強み", Essence},
	{Business, "weaknesses", "弱み", Structure},
	{Business, "industry_trends", "業界動向", Structure},
	{Business, "market_position", "市場ポジション", Structure},

	{Organization, "org_structure", "組織体制", Structure},
	{Organization, "key_persons", "キーパーソン", Essence},
	{Organization, "successor_status", "後継者有無", Essence},
	{Organization, "employee_treatment", "従業員の処遇", Exit},
	{Organization, "executive_retention", "役員の残留意向", Exit},

	{Transfer, "transfer_scheme", "譲渡スキーム", Exit},
	{Transfer, "transfer_reason", "譲渡理由", Essence},
	{Transfer, "desired_price", "希望価格", Exit},
	{Transfer, "desired_timing", "希望時期", Exit},
	{Transfer, "desired_conditions", "希望条件", Exit},
	{Transfer, "dd_notes", "DD留意事項", Exit},
}

var byKey = func() map[string]Field {
	m := make(map[string]Field, len(items))
	for _, f := range items {
		m[f.Key()] = f
	}
	return m
}()

// All returns every field definition in catalog order.
func All() []Field {
	return append([]Field(nil), items...)
}

// ByCategory returns the field definitions of one category in catalog
// order.
func ByCategory(category Category) []Field {
	out := make([]Field, 0, 9)
	for _, f := range items {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

// Lookup resolves a (category, field) pair against the catalog.
func Lookup(category Category, name string) (Field, bool) {
	f, ok := byKey[string(category)+"."+name]
	return f, ok
}

// Size returns the total number of catalog fields.
func Size() int {
	return len(items)
}
