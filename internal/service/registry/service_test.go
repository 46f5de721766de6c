package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
	"github.com/tonari-ai/mna-hearing/internal/model/session"
	"github.com/tonari-ai/mna-hearing/internal/service/registry"
)

func TestCreateAndGetSession(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()

	created := svc.CreateSession(ctx, "P1")
	if created.Status != session.StatusActive {
		t.Fatalf("expected active status, got %s", created.Status)
	}
	if created.CurrentLayer != catalog.Surface {
		t.Fatalf("expected surface layer, got %s", created.CurrentLayer)
	}

	got, err := svc.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.ProjectID != "P1" {
		t.Fatalf("unexpected project ID: %s", got.ProjectID)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	svc := registry.NewService()

	_, err := svc.GetSession(context.Background(), "missing")
	if !errors.Is(err, registry.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEndSessionImmediately(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()

	created := svc.CreateSession(ctx, "P1")
	summary, err := svc.EndSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("EndSession err: %v", err)
	}

	if summary.ExtractionCount != 0 {
		t.Fatalf("expected 0 extractions, got %d", summary.ExtractionCount)
	}
	if summary.UtteranceCount != 0 {
		t.Fatalf("expected 0 utterances, got %d", summary.UtteranceCount)
	}
	if summary.DurationSeconds == nil {
		t.Fatal("expected a duration")
	}
	if *summary.DurationSeconds < 0 || *summary.DurationSeconds > 1 {
		t.Fatalf("expected duration near 0, got %d", *summary.DurationSeconds)
	}

	// Completion is irreversible; ending twice keeps the first EndedAt.
	got, err := svc.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	first := got.EndedAt
	if _, err := svc.EndSession(ctx, created.ID); err != nil {
		t.Fatalf("second EndSession err: %v", err)
	}
	got, _ = svc.GetSession(ctx, created.ID)
	if got.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if !got.EndedAt.Equal(*first) {
		t.Fatal("EndedAt changed on repeated EndSession")
	}
}

func TestAppendUtterancePreservesOrder(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	texts := []string{"one", "two", "three"}
	for i, text := range texts {
		u := session.Utterance{
			ID:        text,
			SessionID: created.ID,
			Speaker:   session.SpeakerOther,
			Text:      text,
		}
		if err := svc.AppendUtterance(ctx, u); err != nil {
			t.Fatalf("AppendUtterance %d err: %v", i, err)
		}
	}

	got, _ := svc.GetSession(ctx, created.ID)
	if len(got.Utterances) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(got.Utterances))
	}
	for i, text := range texts {
		if got.Utterances[i].Text != text {
			t.Fatalf("order violated at %d: got %s want %s", i, got.Utterances[i].Text, text)
		}
	}
}

func TestUpdateFieldManual(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	field, err := svc.UpdateField(ctx, created.ID, "financial.debt", "0")
	if err != nil {
		t.Fatalf("UpdateField err: %v", err)
	}
	if field.Value != "0" {
		t.Fatalf("unexpected value: %s", field.Value)
	}
	if field.Confidence != 1.0 {
		t.Fatalf("manual update must set confidence 1.0, got %f", field.Confidence)
	}
	if field.Layer != catalog.Surface {
		t.Fatalf("expected catalog layer surface for debt, got %s", field.Layer)
	}
}

func TestUpdateFieldMalformedKey(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	if _, err := svc.UpdateField(ctx, created.ID, "debt", "0"); !errors.Is(err, registry.ErrInvalidFieldKey) {
		t.Fatalf("expected ErrInvalidFieldKey, got %v", err)
	}
	if _, err := svc.UpdateField(ctx, created.ID, "bogus.debt", "0"); !errors.Is(err, registry.ErrInvalidFieldKey) {
		t.Fatalf("expected ErrInvalidFieldKey for unknown category, got %v", err)
	}
}

func TestMergeAutomaticKeepsManualFields(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	if _, err := svc.UpdateField(ctx, created.ID, "financial.debt", "0"); err != nil {
		t.Fatalf("UpdateField err: %v", err)
	}

	applied, err := svc.MergeAutomatic(ctx, created.ID, []session.Field{
		{Category: catalog.Financial, Name: "debt", Value: "3億円", Confidence: 0.8, Layer: catalog.Surface},
		{Category: catalog.Financial, Name: "revenue_latest", Value: "10億円", Confidence: 0.9, Layer: catalog.Surface},
	})
	if err != nil {
		t.Fatalf("MergeAutomatic err: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied field, got %d", len(applied))
	}
	if applied[0].Name != "revenue_latest" {
		t.Fatalf("expected revenue_latest applied, got %s", applied[0].Name)
	}

	extractions, _ := svc.Extractions(ctx, created.ID)
	debt, _ := extractions.Get(catalog.Financial, "debt")
	if debt.Value != "0" || debt.Confidence != 1.0 {
		t.Fatalf("manual field was overwritten: %+v", debt)
	}
}

func TestMergeAutomaticLastWriteWins(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	first := []session.Field{{Category: catalog.Financial, Name: "debt", Value: "1億円", Confidence: 0.6, Layer: catalog.Surface}}
	second := []session.Field{{Category: catalog.Financial, Name: "debt", Value: "2億円", Confidence: 0.7, Layer: catalog.Surface}}

	if _, err := svc.MergeAutomatic(ctx, created.ID, first); err != nil {
		t.Fatalf("first merge err: %v", err)
	}
	if _, err := svc.MergeAutomatic(ctx, created.ID, second); err != nil {
		t.Fatalf("second merge err: %v", err)
	}

	extractions, _ := svc.Extractions(ctx, created.ID)
	debt, _ := extractions.Get(catalog.Financial, "debt")
	if debt.Value != "2億円" {
		t.Fatalf("expected last write to win, got %s", debt.Value)
	}
}

func TestMergeAutomaticAfterEndDiscarded(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	if _, err := svc.EndSession(ctx, created.ID); err != nil {
		t.Fatalf("EndSession err: %v", err)
	}

	_, err := svc.MergeAutomatic(ctx, created.ID, []session.Field{
		{Category: catalog.Financial, Name: "debt", Value: "1億円", Confidence: 0.6, Layer: catalog.Surface},
	})
	if !errors.Is(err, registry.ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted, got %v", err)
	}
}

func TestAddSuggestionsAfterEndDiscarded(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	if _, err := svc.EndSession(ctx, created.ID); err != nil {
		t.Fatalf("EndSession err: %v", err)
	}

	err := svc.AddSuggestions(ctx, created.ID, []session.Suggestion{
		{ID: "s1", SessionID: created.ID, Type: session.SuggestionQuestion, Content: "遅れて届いた提案"},
	})
	if !errors.Is(err, registry.ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted, got %v", err)
	}

	got, err := svc.Suggestions(ctx, created.ID)
	if err != nil {
		t.Fatalf("Suggestions err: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("late suggestions must not be stored, got %d", len(got))
	}
}

func TestPinUtterance(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	u := session.Utterance{ID: "u1", SessionID: created.ID, Speaker: session.SpeakerOther, Text: "大事な話"}
	if err := svc.AppendUtterance(ctx, u); err != nil {
		t.Fatalf("AppendUtterance err: %v", err)
	}

	if err := svc.PinUtterance(ctx, created.ID, "u1", "要確認"); err != nil {
		t.Fatalf("PinUtterance err: %v", err)
	}

	got, _ := svc.GetSession(ctx, created.ID)
	if !got.Utterances[0].IsPinned || got.Utterances[0].PinNote != "要確認" {
		t.Fatalf("pin not applied: %+v", got.Utterances[0])
	}
}

func TestMarkSuggestionFlags(t *testing.T) {
	svc := registry.NewService()
	ctx := context.Background()
	created := svc.CreateSession(ctx, "P1")

	items := []session.Suggestion{
		{ID: "s1", SessionID: created.ID, Type: session.SuggestionQuestion, Content: "q1"},
		{ID: "s2", SessionID: created.ID, Type: session.SuggestionQuestion, Content: "q2"},
	}
	if err := svc.AddSuggestions(ctx, created.ID, items); err != nil {
		t.Fatalf("AddSuggestions err: %v", err)
	}
	if err := svc.MarkSuggestionUsed(ctx, created.ID, "s1"); err != nil {
		t.Fatalf("MarkSuggestionUsed err: %v", err)
	}
	if err := svc.MarkSuggestionDismissed(ctx, created.ID, "s2"); err != nil {
		t.Fatalf("MarkSuggestionDismissed err: %v", err)
	}

	got, err := svc.Suggestions(ctx, created.ID)
	if err != nil {
		t.Fatalf("Suggestions err: %v", err)
	}
	if !got[0].WasUsed {
		t.Fatal("s1 should be marked used")
	}
	if !got[1].WasDismissed {
		t.Fatal("s2 should be marked dismissed")
	}
	if got[0].Content != "q1" {
		t.Fatalf("content must not change: %s", got[0].Content)
	}
}
