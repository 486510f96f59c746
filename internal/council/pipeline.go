// internal/council/pipeline.go
package council

import (
	"context"
	"errors"
	"strings"
	"time"

	"council/internal/config"
	"council/internal/models"
)

// Execution modes select which stages run for a conversation.
const (
	ModeFull        = "full"
	ModeChatRanking = "chat_ranking"
	ModeChatOnly    = "chat_only"
)

// NormalizeMode maps absent or unknown modes to full. Conversations created
// before modes existed carry no mode at all.
func NormalizeMode(mode string) string {
	switch mode {
	case ModeChatRanking, ModeChatOnly:
		return mode
	default:
		return ModeFull
	}
}

// Progress event types, in stream order.
const (
	EventStage1Start    = "stage1_start"
	EventStage1Result   = "stage1_result"
	EventStage1Complete = "stage1_complete"
	EventStage2Start    = "stage2_start"
	EventStage2Complete = "stage2_complete"
	EventStage3Start    = "stage3_start"
	EventStage3Complete = "stage3_complete"
	EventTitleComplete  = "title_complete"
	EventComplete       = "complete"
	EventError          = "error"
)

// Event is one progress notification to the client stream.
type Event struct {
	Type     string          `json:"type"`
	Result   *models.Result  `json:"result,omitempty"`
	Results  []models.Result `json:"results,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Title    string          `json:"title,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// EmitFunc delivers progress events. Implementations must not block forever;
// a slow client is the emitter's problem, not the pipeline's.
type EmitFunc func(Event)

// Request is one user turn to run through the council.
type Request struct {
	Mode    string
	History []models.Message
	Content string

	// Per-conversation overrides; empty means the configured defaults.
	Models   []string
	Chairman string
}

// Turn accumulates stage output as the pipeline runs. The caller owns it and
// reads whatever had been produced if Run exits early, so fields are filled
// the moment a stage finishes, never at the end.
type Turn struct {
	Stage1   []models.Result
	Stage2   []models.Result
	Stage3   *models.Result
	Metadata map[string]any
}

var ErrNoResponses = errors.New("no council model produced a response")

// Pipeline drives the three council stages against one model client.
type Pipeline struct {
	client       models.Client
	council      []string
	chairman     string
	stageTimeout time.Duration
	titleTimeout time.Duration
	minResults   int
}

func NewPipeline(client models.Client, cfg *config.Config) *Pipeline {
	return &Pipeline{
		client:       client,
		council:      cfg.Council,
		chairman:     cfg.Chairman,
		stageTimeout: time.Duration(cfg.Defaults.StageTimeout) * time.Second,
		titleTimeout: time.Duration(cfg.Defaults.TitleTimeout) * time.Second,
		minResults:   cfg.Defaults.MinResults,
	}
}

// Council resolves the effective council membership for a request: the
// per-conversation override when set, otherwise the configured default.
func (p *Pipeline) Council(overrides []string) []string {
	if len(overrides) > 0 {
		return overrides
	}
	return p.council
}

// Run executes the stages selected by the request's mode, filling turn as it
// goes and emitting progress events. Stage 1 streams per-model results;
// stages 2 and 3 are collect-then-return. In chat_only mode the stage 2 and
// 3 code paths are never entered. A stage deadline is not fatal: later
// stages proceed with the partial outcome.
func (p *Pipeline) Run(ctx context.Context, req Request, turn *Turn, emit EmitFunc) error {
	mode := NormalizeMode(req.Mode)
	councilModels := p.Council(req.Models)
	chairman := req.Chairman
	if chairman == "" {
		chairman = p.chairman
	}

	turn.Metadata = map[string]any{"execution_mode": mode}

	msgs := append(append([]models.Message{}, req.History...), models.Message{
		Role:    models.RoleUser,
		Content: req.Content,
	})

	// Stage 1: independent answers, streamed as each model finishes.
	emit(Event{Type: EventStage1Start})

	results := make(chan models.Result)
	var stage1 StageOutcome
	stage1Done := make(chan struct{})
	go func() {
		defer close(stage1Done)
		stage1 = RunStageStreaming(ctx, p.client, councilModels, msgs, "stage1", p.stageTimeout, p.minResults, results)
	}()
	for r := range results {
		emit(Event{Type: EventStage1Result, Result: &r})
	}
	<-stage1Done

	turn.Stage1 = stage1.Results
	if err := ctx.Err(); err != nil {
		return err
	}
	emit(Event{Type: EventStage1Complete, Results: stage1.Results})

	answered := stage1.OK()
	if len(answered) == 0 {
		return ErrNoResponses
	}

	if mode == ModeChatOnly {
		return nil
	}

	// Stage 2: peer ranking over anonymized stage-1 answers.
	emit(Event{Type: EventStage2Start})
	prompt, labelToModel := stage2Prompt(req.Content, answered)
	rankMsgs := []models.Message{{Role: models.RoleUser, Content: prompt}}
	stage2 := RunStage(ctx, p.client, councilModels, rankMsgs, "stage2", p.stageTimeout, p.minResults)

	// A request cancelled mid-ranking keeps stage 1 but discards the
	// half-done ranking; the stored message must not claim stage 2 ran.
	if err := ctx.Err(); err != nil {
		return err
	}
	turn.Stage2 = stage2.Results
	turn.Metadata["label_to_model"] = labelToModel
	if agg := AggregateRankings(stage2.Results, labelToModel); len(agg) > 0 {
		turn.Metadata["aggregate_rankings"] = agg
	}
	emit(Event{Type: EventStage2Complete, Results: stage2.Results, Metadata: turn.Metadata})

	if mode == ModeChatRanking {
		return nil
	}

	// Stage 3: chairman synthesis, a single bounded call.
	emit(Event{Type: EventStage3Start})
	synthCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	final := p.client.Query(synthCtx, chairman, []models.Message{{
		Role:    models.RoleUser,
		Content: stage3Prompt(req.Content, answered, stage2.OK(), labelToModel),
	}}, stageTemperature)
	cancel()

	if err := ctx.Err(); err != nil {
		return err
	}
	turn.Stage3 = &final
	emit(Event{Type: EventStage3Complete, Result: &final})

	return nil
}

// GenerateTitle asks the chairman for a short conversation title. Failures
// are reported, not fatal; callers fall back to a placeholder.
func (p *Pipeline) GenerateTitle(ctx context.Context, content string) (string, error) {
	titleCtx, cancel := context.WithTimeout(ctx, p.titleTimeout)
	defer cancel()

	res := p.client.Query(titleCtx, p.chairman, []models.Message{{
		Role:    models.RoleUser,
		Content: titlePrompt(content),
	}}, stageTemperature)
	if !res.OK {
		return "", errors.New(res.Error)
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(res.Content), `"'`))
	if title == "" {
		return "", errors.New("empty title")
	}
	return truncateRunes(title, 80), nil
}
