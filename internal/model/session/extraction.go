package session

import (
	"encoding/json"
	"sort"

	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
)

// Field is one structured fact pulled out of the conversation.
// Confidence stays in [0,1]; manual edits pin it to exactly 1.0 and
// mark the field so automatic merges leave it alone.
type Field struct {
	Category          catalog.Category `json:"category"`
	Name              string           `json:"field"`
	Value             string           `json:"value,omitempty"`
	Confidence        float64          `json:"confidence"`
	SourceUtteranceID string           `json:"source_utterance_id,omitempty"`
	Layer             catalog.Layer    `json:"layer"`
	Manual            bool             `json:"manual,omitempty"`
}

// Key returns the canonical "category.field" key.
func (f Field) Key() string {
	return string(f.Category) + "." + f.Name
}

// Map holds the session's extraction state as a two-level structure
// (category -> field name -> Field). The wire format stays the flat
// "category.field" keyed object the frontend expects.
type Map struct {
	fields map[catalog.Category]map[string]Field
}

// NewMap returns an empty extraction map.
func NewMap() Map {
	return Map{fields: make(map[catalog.Category]map[string]Field)}
}

// Get looks up a field by category and name.
func (m Map) Get(category catalog.Category, name string) (Field, bool) {
	f, ok := m.fields[category][name]
	return f, ok
}

// Set stores a field, creating the category bucket on first use.
func (m *Map) Set(f Field) {
	if m.fields == nil {
		m.fields = make(map[catalog.Category]map[string]Field)
	}
	bucket, ok := m.fields[f.Category]
	if !ok {
		bucket = make(map[string]Field)
		m.fields[f.Category] = bucket
	}
	bucket[f.Name] = f
}

// Len counts stored fields across all categories.
func (m Map) Len() int {
	n := 0
	for _, bucket := range m.fields {
		n += len(bucket)
	}
	return n
}

// All returns every stored field ordered by key, for deterministic
// iteration.
func (m Map) All() []Field {
	out := make([]Field, 0, m.Len())
	for _, bucket := range m.fields {
		for _, f := range bucket {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Clone returns a deep copy so registry snapshots cannot alias live
// state.
func (m Map) Clone() Map {
	clone := NewMap()
	for _, bucket := range m.fields {
		for _, f := range bucket {
			clone.Set(f)
		}
	}
	return clone
}

// MarshalJSON renders the flat "category.field" keyed object.
func (m Map) MarshalJSON() ([]byte, error) {
	flat := make(map[string]Field, m.Len())
	for _, f := range m.All() {
		flat[f.Key()] = f
	}
	return json.Marshal(flat)
}

// UnmarshalJSON accepts the flat wire format back into the two-level
// structure, dropping entries whose key does not parse.
func (m *Map) UnmarshalJSON(data []byte) error {
	flat := make(map[string]Field)
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	*m = NewMap()
	for key, f := range flat {
		category, name, err := catalog.ParseKey(key)
		if err != nil {
			continue
		}
		f.Category = category
		f.Name = name
		m.Set(f)
	}
	return nil
}

// LayerProgress is the filled/total breakdown for one slice of the
// catalog.
type LayerProgress struct {
	Total      int     `json:"total"`
	Filled     int     `json:"filled"`
	Percentage float64 `json:"percentage"`
}

// Progress reports extraction completeness overall and per
// category/layer.
type Progress struct {
	Total      int                      `json:"total"`
	Filled     int                      `json:"filled"`
	Percentage float64                  `json:"percentage"`
	ByCategory map[string]LayerProgress `json:"by_category"`
	ByLayer    map[string]LayerProgress `json:"by_layer"`
}

// MissingField describes a catalog entry that has no value yet.
type MissingField struct {
	Category catalog.Category `json:"category"`
	Field    string           `json:"field"`
	Label    string           `json:"label"`
	Layer    catalog.Layer    `json:"layer"`
}
