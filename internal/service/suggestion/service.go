// Package suggestion proposes ranked follow-up questions and
// reframings during a hearing. Question generation goes through the
// analysis oracle; reframing detection runs a pure pattern scan first
// and only escalates to the oracle when the table has no match.
package suggestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonari-ai/mna-hearing/internal/analysis/reframing"
	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
	"github.com/tonari-ai/mna-hearing/internal/model/session"
	"github.com/tonari-ai/mna-hearing/internal/oracle"
)

// maxSuggestions caps one generation round.
const maxSuggestions = 5

const questionSystemPrompt = `あなたはM&Aヒアリングの専門家「水野メソッド」を実践するアシスタントです。

## 水野メソッドの4原則
1. 多層的情報収集: 表層→構造→本質→出口の4レイヤーで情報を集める
2. 仮説駆動: 仮説を立て、検証する質問をする
3. リフレーミング: ネガティブ情報をポジティブに転換
4. 出口逆算: 買い手が知りたい情報を優先

会話の流れを壊さない自然な質問を2-4個提案し、指定のJSON形式のみで出力してください。
出力形式: {"suggestions": [{"question": "...", "reason": "...", "layer": "surface|structure|essence|exit", "priority": 0.0, "target_field": "..."}]}
JSON以外の出力は禁止。`

const reframeSystemPrompt = `以下の発言にネガティブな内容が含まれているか分析し、
M&Aの観点からポジティブに解釈できる可能性を提示してください。
指定のJSON形式のみで出力してください。ネガティブな内容がない場合は has_negative を false にしてください。
出力形式: {"has_negative": true, "negative_word": "...", "positive_interpretation": "...", "follow_up_question": "...", "reframe_conditions": "..."}`

// Service is the suggestion engine. A nil oracle disables generation;
// the pattern-based reframing path keeps working regardless.
type Service struct {
	oracle oracle.Oracle
}

// NewService wires the engine to an analysis oracle.
func NewService(o oracle.Oracle) *Service {
	return &Service{oracle: o}
}

type oracleSuggestion struct {
	Question    string  `json:"question"`
	Reason      string  `json:"reason"`
	Layer       string  `json:"layer"`
	Priority    float64 `json:"priority"`
	TargetField string  `json:"target_field"`
}

type suggestionPayload struct {
	Suggestions []oracleSuggestion `json:"suggestions"`
}

// Generate asks the oracle for question suggestions. Entries with an
// invalid layer are dropped; the rest are sorted by priority
// descending (stable on ties) and truncated to five. Any oracle
// failure degrades to an empty slice.
func (s *Service) Generate(
	ctx context.Context,
	sessionID string,
	recent []session.Utterance,
	current session.Map,
	missing []session.MissingField,
	hypotheses []session.Hypothesis,
	currentLayer catalog.Layer,
) []session.Suggestion {
	if s.oracle == nil {
		return nil
	}

	user := buildQuestionPrompt(recent, current, missing, hypotheses)
	raw, err := s.oracle.CompleteJSON(ctx, questionSystemPrompt, user)
	if err != nil {
		if oracle.IsFault(err) {
			log.Printf("[suggestion] oracle call failed session=%s: %v", sessionID, err)
		} else {
			log.Printf("[suggestion] unexpected oracle error session=%s: %v", sessionID, err)
		}
		return nil
	}

	var payload suggestionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("[suggestion] malformed oracle payload session=%s: %v", sessionID, err)
		return nil
	}

	now := time.Now().UTC()
	suggestions := make([]session.Suggestion, 0, len(payload.Suggestions))
	for _, item := range payload.Suggestions {
		layer, ok := catalog.ParseLayer(item.Layer)
		if !ok {
			log.Printf("[suggestion] dropped entry with invalid layer %q session=%s", item.Layer, sessionID)
			continue
		}
		if strings.TrimSpace(item.Question) == "" {
			continue
		}

		priority := item.Priority
		if priority <= 0 {
			// Oracle omitted a usable priority; score it with the
			// shared policy instead of guessing.
			priority = scoreMissing(item.TargetField, missing, currentLayer, recent)
		}

		suggestions = append(suggestions, session.Suggestion{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			Type:        session.SuggestionQuestion,
			Content:     item.Question,
			Reason:      item.Reason,
			Layer:       layer,
			Priority:    clamp01(priority),
			TargetField: item.TargetField,
			CreatedAt:   now,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Priority > suggestions[j].Priority
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

// DetectReframing runs the fast pattern scan used inline during
// ingestion. Pure, no oracle call.
func (s *Service) DetectReframing(u session.Utterance) *session.Reframing {
	match := reframing.Detect(u.Text)
	if match == nil {
		return nil
	}

	return &session.Reframing{
		OriginalText:           u.Text,
		NegativeWord:           match.Word,
		PositiveInterpretation: match.Reframe,
		FollowUpQuestion:       match.Question,
		ReframeConditions:      fmt.Sprintf("「%s」を「%s」として捉え直す", match.Word, match.Reframe),
	}
}

type reframePayload struct {
	HasNegative            bool   `json:"has_negative"`
	NegativeWord           string `json:"negative_word"`
	PositiveInterpretation string `json:"positive_interpretation"`
	FollowUpQuestion       string `json:"follow_up_question"`
	ReframeConditions      string `json:"reframe_conditions"`
}

// GenerateReframing tries the fast path first and only escalates to
// the oracle when no pattern matched. The oracle may explicitly state
// there is no negative content, which comes back as nil, never as a
// guess.
func (s *Service) GenerateReframing(ctx context.Context, u session.Utterance, history []session.Utterance) *session.Reframing {
	if match := s.DetectReframing(u); match != nil {
		return match
	}
	if s.oracle == nil {
		return nil
	}

	raw, err := s.oracle.CompleteJSON(ctx, reframeSystemPrompt, buildReframePrompt(u, history))
	if err != nil {
		log.Printf("[suggestion] reframing oracle call failed session=%s: %v", u.SessionID, err)
		return nil
	}

	var payload reframePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("[suggestion] malformed reframing payload session=%s: %v", u.SessionID, err)
		return nil
	}
	if !payload.HasNegative {
		return nil
	}

	return &session.Reframing{
		OriginalText:           u.Text,
		NegativeWord:           payload.NegativeWord,
		PositiveInterpretation: payload.PositiveInterpretation,
		FollowUpQuestion:       payload.FollowUpQuestion,
		ReframeConditions:      payload.ReframeConditions,
	}
}

// Priority scores one missing field against the session's focus.
// Base 0.5, closer layers score higher, exit-layer items always get a
// bonus, and fields whose label appears in the last three utterances
// get a context bonus. The result is clamped to [0,1].
func Priority(field session.MissingField, currentLayer catalog.Layer, recent []session.Utterance) float64 {
	priority := 0.5

	distance := field.Layer.Rank() - currentLayer.Rank()
	if distance < 0 {
		distance = -distance
	}
	priority += 0.2 - float64(distance)*0.1

	if field.Layer == catalog.Exit {
		priority += 0.15
	}

	start := len(recent) - 3
	if start < 0 {
		start = 0
	}
	var contextText strings.Builder
	for _, u := range recent[start:] {
		contextText.WriteString(u.Text)
		contextText.WriteString(" ")
	}
	if field.Label != "" && strings.Contains(contextText.String(), field.Label) {
		priority += 0.1
	}

	return clamp01(priority)
}

func scoreMissing(targetField string, missing []session.MissingField, currentLayer catalog.Layer, recent []session.Utterance) float64 {
	for _, m := range missing {
		if m.Field == targetField {
			return Priority(m, currentLayer, recent)
		}
	}
	return 0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func buildQuestionPrompt(
	recent []session.Utterance,
	current session.Map,
	missing []session.MissingField,
	hypotheses []session.Hypothesis,
) string {
	var b strings.Builder

	b.WriteString("### 抽出済み情報\n")
	extracted := current.All()
	if len(extracted) == 0 {
		b.WriteString("(なし)\n")
	}
	for _, f := range extracted {
		if f.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Key(), f.Value)
	}

	b.WriteString("\n### 未取得の重要情報\n")
	limit := len(missing)
	if limit > 10 {
		limit = 10
	}
	for _, m := range missing[:limit] {
		fmt.Fprintf(&b, "- %s (%s)\n", m.Label, m.Layer)
	}

	b.WriteString("\n### 直近の会話\n")
	start := len(recent) - 5
	if start < 0 {
		start = 0
	}
	for _, u := range recent[start:] {
		label := "売り手"
		if u.Speaker == session.SpeakerSelf {
			label = "アドバイザー"
		}
		fmt.Fprintf(&b, "[%s] %s\n", label, u.Text)
	}

	b.WriteString("\n### 現在の仮説\n")
	hStart := len(hypotheses) - 3
	if hStart < 0 {
		hStart = 0
	}
	if len(hypotheses) == 0 {
		b.WriteString("(なし)\n")
	}
	for _, h := range hypotheses[hStart:] {
		fmt.Fprintf(&b, "- %s（確信度: %.1f）\n", h.Content, h.Confidence)
	}

	return b.String()
}

func buildReframePrompt(u session.Utterance, history []session.Utterance) string {
	var b strings.Builder

	b.WriteString("## 発言\n")
	b.WriteString(u.Text)
	b.WriteString("\n\n## 直近の会話\n")

	start := len(history) - 3
	if start < 0 {
		start = 0
	}
	for _, c := range history[start:] {
		label := "売り手"
		if c.Speaker == session.SpeakerSelf {
			label = "アドバイザー"
		}
		fmt.Fprintf(&b, "[%s] %s\n", label, c.Text)
	}

	return b.String()
}
