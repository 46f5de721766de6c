// Package extraction turns buffered conversation batches into
// structured IM fields via the analysis oracle, and derives progress
// and missing-item views from the catalog.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
	"github.com/tonari-ai/mna-hearing/internal/model/session"
	"github.com/tonari-ai/mna-hearing/internal/oracle"
)

const systemPrompt = `あなたはM&Aアドバイザーのアシスタントです。
会話からM&A検討に必要な情報を抽出し、指定のJSON形式のみで出力してください。
- 明確に言及された情報のみを抽出
- 推測は避け、確信度を0-1で示す
- 既に取得済みの情報は出力しない
- 具体的な数値や固有名詞を正確に抽出
出力形式: {"extractions": [{"category": "...", "field": "...", "value": "...", "confidence": 0.0}]}
JSON以外の出力は禁止。`

// Service is the extraction engine. A nil oracle disables extraction
// entirely; every call then degrades to an empty result.
type Service struct {
	oracle oracle.Oracle
}

// NewService wires the engine to an analysis oracle.
func NewService(o oracle.Oracle) *Service {
	return &Service{oracle: o}
}

type oracleField struct {
	Category   string  `json:"category"`
	Field      string  `json:"field"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type oraclePayload struct {
	Extractions []oracleField `json:"extractions"`
}

// ExtractFromUtterances asks the oracle for new fields mentioned in
// the batch. Oracle failure, timeout or malformed output all degrade
// to an empty slice; only ingestion-side bugs would surface as errors,
// and there are none to return.
func (s *Service) ExtractFromUtterances(ctx context.Context, sessionID string, batch []session.Utterance, current session.Map) []session.Field {
	if s.oracle == nil || len(batch) == 0 {
		return nil
	}

	raw, err := s.oracle.CompleteJSON(ctx, systemPrompt, buildExtractionPrompt(batch, current))
	if err != nil {
		// A Fault is the expected degradation path; anything else
		// points at a bug in an oracle implementation.
		if oracle.IsFault(err) {
			log.Printf("[extraction] oracle call failed session=%s: %v", sessionID, err)
		} else {
			log.Printf("[extraction] unexpected oracle error session=%s: %v", sessionID, err)
		}
		return nil
	}

	var payload oraclePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("[extraction] malformed oracle payload session=%s: %v", sessionID, err)
		return nil
	}

	fields := make([]session.Field, 0, len(payload.Extractions))
	for _, item := range payload.Extractions {
		category, ok := catalog.ParseCategory(item.Category)
		if !ok {
			log.Printf("[extraction] dropped unknown category %q session=%s", item.Category, sessionID)
			continue
		}
		def, ok := catalog.Lookup(category, item.Field)
		if !ok {
			log.Printf("[extraction] dropped unknown field %q.%q session=%s", item.Category, item.Field, sessionID)
			continue
		}
		if strings.TrimSpace(item.Value) == "" {
			continue
		}

		fields = append(fields, session.Field{
			Category:   category,
			Name:       item.Field,
			Value:      item.Value,
			Confidence: clampConfidence(item.Confidence),
			// The catalog owns layer assignment; whatever the oracle
			// says about layers is ignored.
			Layer: def.Layer,
		})
	}
	return fields
}

// MissingFields lists catalog entries with no value yet, the priority
// layer (when given) first, the rest in surface<structure<essence<exit
// order. Ordering within a layer follows the catalog.
func (s *Service) MissingFields(current session.Map, priorityLayer catalog.Layer) []session.MissingField {
	missing := make([]session.MissingField, 0, catalog.Size())
	for _, def := range catalog.All() {
		if f, ok := current.Get(def.Category, def.Name); ok && f.Value != "" {
			continue
		}
		missing = append(missing, session.MissingField{
			Category: def.Category,
			Field:    def.Name,
			Label:    def.Label,
			Layer:    def.Layer,
		})
	}

	sort.SliceStable(missing, func(i, j int) bool {
		if priorityLayer != "" {
			iMatch := missing[i].Layer == priorityLayer
			jMatch := missing[j].Layer == priorityLayer
			if iMatch != jMatch {
				return iMatch
			}
		}
		return missing[i].Layer.Rank() < missing[j].Layer.Rank()
	})

	return missing
}

// Progress computes the filled/total breakdown overall and per
// category and layer. Empty slices never divide by zero.
func (s *Service) Progress(current session.Map) session.Progress {
	progress := session.Progress{
		ByCategory: make(map[string]session.LayerProgress, len(catalog.Categories())),
		ByLayer:    make(map[string]session.LayerProgress, len(catalog.Layers())),
	}

	layerCounts := make(map[catalog.Layer]*session.LayerProgress, len(catalog.Layers()))
	for _, layer := range catalog.Layers() {
		layerCounts[layer] = &session.LayerProgress{}
	}

	for _, category := range catalog.Categories() {
		var cat session.LayerProgress
		for _, def := range catalog.ByCategory(category) {
			cat.Total++
			progress.Total++
			layerCounts[def.Layer].Total++

			if f, ok := current.Get(def.Category, def.Name); ok && f.Value != "" {
				cat.Filled++
				progress.Filled++
				layerCounts[def.Layer].Filled++
			}
		}
		cat.Percentage = percentage(cat.Filled, cat.Total)
		progress.ByCategory[string(category)] = cat
	}

	for layer, counts := range layerCounts {
		counts.Percentage = percentage(counts.Filled, counts.Total)
		progress.ByLayer[string(layer)] = *counts
	}

	progress.Percentage = percentage(progress.Filled, progress.Total)
	return progress
}

func percentage(filled, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(filled)/float64(total)*1000) / 10
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// buildExtractionPrompt enumerates every catalog item with its current
// value (or 未取得) and appends the new batch labeled by speaker role.
func buildExtractionPrompt(batch []session.Utterance, current session.Map) string {
	var b strings.Builder

	b.WriteString("## これまでの抽出情報\n")
	for _, def := range catalog.All() {
		value := "(未取得)"
		if f, ok := current.Get(def.Category, def.Name); ok && f.Value != "" {
			value = f.Value
		}
		fmt.Fprintf(&b, "- %s: %s\n", def.Label, value)
	}

	b.WriteString("\n## 新しい会話\n")
	for _, u := range batch {
		label := "売り手"
		if u.Speaker == session.SpeakerSelf {
			label = "アドバイザー"
		}
		fmt.Fprintf(&b, "[%s] %s\n", label, u.Text)
	}

	b.WriteString("\n新しく抽出できた情報のみをJSONで出力してください。")
	return b.String()
}
