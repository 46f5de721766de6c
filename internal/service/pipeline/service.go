// Package pipeline is the ingestion path of a hearing session: it
// receives transcript events, appends finalized utterances, runs the
// inline reframing check, and dispatches extraction + suggestion
// cycles when the rolling buffer fills. Dispatch is fire-and-forget;
// ingestion never waits for an analysis cycle.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonari-ai/mna-hearing/internal/config"
	"github.com/tonari-ai/mna-hearing/internal/hub"
	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
	"github.com/tonari-ai/mna-hearing/internal/model/session"
	"github.com/tonari-ai/mna-hearing/internal/service/extraction"
	"github.com/tonari-ai/mna-hearing/internal/service/registry"
	"github.com/tonari-ai/mna-hearing/internal/service/suggestion"
)

// Service coordinates ingestion, buffering and analysis dispatch.
type Service struct {
	registry  *registry.Service
	extractor *extraction.Service
	suggester *suggestion.Service
	hub       *hub.Hub
	cfg       config.PipelineConfig

	mu      sync.Mutex
	buffers map[string][]session.Utterance

	// wg tracks in-flight cycles so tests and shutdown can drain them.
	wg sync.WaitGroup
}

// NewService wires the pipeline. The hub's last-observer hook is
// installed here so an abandoned session drops its rolling buffer.
func NewService(
	reg *registry.Service,
	extractor *extraction.Service,
	suggester *suggestion.Service,
	h *hub.Hub,
	cfg config.PipelineConfig,
) *Service {
	if cfg.MinUtterances < 1 {
		cfg.MinUtterances = 3
	}
	if cfg.RecentWindow < 1 {
		cfg.RecentWindow = 10
	}

	s := &Service{
		registry:  reg,
		extractor: extractor,
		suggester: suggester,
		hub:       h,
		cfg:       cfg,
		buffers:   make(map[string][]session.Utterance),
	}
	h.SetOnEmpty(s.DiscardBuffer)
	return s
}

// ProcessIncoming handles one transcript event. Interim text is echoed
// to observers and nothing else; finalized text is appended to the
// session, buffered, checked for reframing, echoed, and may trigger a
// processing cycle.
func (s *Service) ProcessIncoming(ctx context.Context, sessionID, text string, speaker session.Speaker, isFinal bool) error {
	u := session.Utterance{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Speaker:   speaker,
		Text:      text,
	}

	if !isFinal {
		s.hub.Broadcast(sessionID, hub.NewMessage(hub.KindTranscript, map[string]any{
			"utterance": u,
			"is_final":  false,
		}))
		return nil
	}

	if err := s.registry.AppendUtterance(ctx, u); err != nil {
		return err
	}

	if reframe := s.suggester.DetectReframing(u); reframe != nil {
		s.hub.Broadcast(sessionID, hub.NewMessage(hub.KindReframing, reframe))
	}

	s.hub.Broadcast(sessionID, hub.NewMessage(hub.KindTranscript, map[string]any{
		"utterance": u,
		"is_final":  true,
	}))

	if batch := s.appendAndMaybeSwap(sessionID, u); batch != nil {
		s.dispatchCycle(sessionID, batch)
	}
	return nil
}

// appendAndMaybeSwap adds the utterance to the session's rolling
// buffer and, at the threshold, swaps in a fresh buffer and returns
// the captured batch. The swap is atomic under the lock: utterances
// arriving during processing land in the new buffer, never lost, never
// processed twice.
func (s *Service) appendAndMaybeSwap(sessionID string, u session.Utterance) []session.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffers[sessionID] = append(s.buffers[sessionID], u)
	if len(s.buffers[sessionID]) < s.cfg.MinUtterances {
		return nil
	}

	batch := s.buffers[sessionID]
	s.buffers[sessionID] = nil
	return batch
}

// BufferLen reports the rolling buffer size for a session.
func (s *Service) BufferLen(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[sessionID])
}

// DiscardBuffer drops a session's rolling buffer. Called when the
// last observer leaves; durable session state is untouched.
func (s *Service) DiscardBuffer(sessionID string) {
	s.mu.Lock()
	delete(s.buffers, sessionID)
	s.mu.Unlock()
	log.Printf("[pipeline] discarded rolling buffer session=%s", sessionID)
}

// Wait blocks until all in-flight cycles finish. Shutdown and tests
// only; ingestion never calls it.
func (s *Service) Wait() {
	s.wg.Wait()
}

// dispatchCycle launches extraction and suggestion as two supervised
// tasks joined at a barrier. Each task converts its own failure or
// panic into an empty result; neither can cancel or starve the other.
// The cycle context is detached from the request: a closed websocket
// must not abort analysis already under way.
func (s *Service) dispatchCycle(sessionID string, batch []session.Utterance) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := context.Background()

		current, err := s.registry.Extractions(ctx, sessionID)
		if err != nil {
			log.Printf("[pipeline] cycle aborted session=%s: %v", sessionID, err)
			return
		}
		currentLayer, err := s.registry.CurrentLayer(ctx, sessionID)
		if err != nil {
			log.Printf("[pipeline] cycle aborted session=%s: %v", sessionID, err)
			return
		}
		recent, _ := s.registry.RecentUtterances(ctx, sessionID, s.cfg.RecentWindow)
		hypotheses, _ := s.registry.Hypotheses(ctx, sessionID)
		missing := s.extractor.MissingFields(current, currentLayer)

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			defer recoverCycle(sessionID, "extraction")
			s.runExtraction(ctx, sessionID, batch, current)
		}()

		go func() {
			defer wg.Done()
			defer recoverCycle(sessionID, "suggestion")
			s.runSuggestion(ctx, sessionID, recent, current, missing, hypotheses, currentLayer)
		}()

		wg.Wait()
	}()
}

func (s *Service) runExtraction(ctx context.Context, sessionID string, batch []session.Utterance, current session.Map) {
	fields := s.extractor.ExtractFromUtterances(ctx, sessionID, batch, current)
	if len(fields) == 0 {
		return
	}

	applied, err := s.registry.MergeAutomatic(ctx, sessionID, fields)
	if err != nil {
		log.Printf("[pipeline] extraction merge skipped session=%s: %v", sessionID, err)
		return
	}

	for _, f := range applied {
		s.hub.Broadcast(sessionID, hub.NewMessage(hub.KindExtractionUpdate, map[string]any{
			"field_key": f.Key(),
			"field":     f,
		}))
	}
}

func (s *Service) runSuggestion(
	ctx context.Context,
	sessionID string,
	recent []session.Utterance,
	current session.Map,
	missing []session.MissingField,
	hypotheses []session.Hypothesis,
	currentLayer catalog.Layer,
) {
	suggestions := s.suggester.Generate(ctx, sessionID, recent, current, missing, hypotheses, currentLayer)
	if len(suggestions) == 0 {
		return
	}

	if err := s.registry.AddSuggestions(ctx, sessionID, suggestions); err != nil {
		log.Printf("[pipeline] suggestion store skipped session=%s: %v", sessionID, err)
		return
	}

	for _, sg := range suggestions {
		s.hub.Broadcast(sessionID, hub.NewMessage(hub.KindSuggestion, sg))
	}
}

func recoverCycle(sessionID, task string) {
	if r := recover(); r != nil {
		log.Printf("[pipeline] %s task panicked session=%s: %v", task, sessionID, r)
	}
}
