// Package reframing detects negative wording in seller utterances and
// proposes a positive reinterpretation plus a follow-up question. The
// match is a plain substring scan over a fixed table, fast enough to
// run inline on every finalized utterance.
package reframing

import "strings"

// Pattern pairs a negative keyword with its positive spin.
type Pattern struct {
	Word     string
	Reframe  string
	Question string
}

// Match is the result of a successful detection.
type Match struct {
	Word     string
	Reframe  string
	Question string
}

// patterns is ordered: the first keyword found in the text wins. The
// catch-all "ない" sits last so specific words take precedence.
var patterns = []Pattern{
	{
		Word:     "赤字",
		Reframe:  "投資フェーズ、成長への先行投資",
		Question: "この赤字は何に投資した結果でしょうか？",
	},
	{
		Word:     "減収",
		Reframe:  "選択と集中、収益性改善への取り組み",
		Question: "減収の背景にはどのような戦略的判断がありましたか？",
	},
	{
		Word:     "借入",
		Reframe:  "レバレッジ活用、成長資金の確保",
		Question: "その借入はどのような投資に充てられましたか？",
	},
	{
		Word:     "高齢",
		Reframe:  "豊富な経験、業界への深い知見",
		Question: "長年の経験から得られた独自のノウハウはありますか？",
	},
	{
		Word:     "離職",
		Reframe:  "組織の新陳代謝、適材適所の実現",
		Question: "離職後の補充や組織強化はどのように進めていますか？",
	},
	{
		Word:     "競合",
		Reframe:  "市場の成長性、需要の証明",
		Question: "競合と比較した際の御社の強みは何でしょうか？",
	},
	{
		Word:     "依存",
		Reframe:  "強固な関係性、信頼の証",
		Question: "その取引先との関係はどのように構築されましたか？",
	},
	{
		Word:     "古い",
		Reframe:  "実績のある、安定した",
		Question: "長年使い続けている理由は何でしょうか？",
	},
	{
		Word:     "小さい",
		Reframe:  "機動力がある、意思決定が早い",
		Question: "小規模だからこそできることは何ですか？",
	},
	{
		Word:     "ない",
		Reframe:  "これから構築可能、柔軟性がある",
		Question: "今後どのように整備していく予定ですか？",
	},
}

// Patterns returns the detection table in match order.
func Patterns() []Pattern {
	return append([]Pattern(nil), patterns...)
}

// Detect returns the first pattern whose keyword appears in text, or
// nil when nothing matches.
func Detect(text string) *Match {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	for _, p := range patterns {
		if strings.Contains(text, p.Word) {
			return &Match{Word: p.Word, Reframe: p.Reframe, Question: p.Question}
		}
	}
	return nil
}
