// internal/server/message.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"council/internal/council"
	"council/internal/models"
	"council/internal/store"
	"council/internal/stream"
)

type messageRequest struct {
	Content string `json:"content"`
}

// handleMessage runs the council pipeline for one user message and streams
// progress events to the client. The pipeline keeps running its cleanup path
// even if the client disconnects mid-stream; whatever stage output exists by
// then is persisted exactly once.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxContentLength {
		s.writeError(w, http.StatusRequestEntityTooLarge, "content too long")
		return
	}

	id := r.PathValue("id")
	conv, err := s.store.Get(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "reading conversation failed")
		return
	}

	cfg := s.cfg.Current()
	if err := cfg.Validate(); err != nil {
		// Credential problems surface before any model task launches.
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	if _, err := s.store.AppendUser(id, req.Content); err != nil {
		s.writeError(w, http.StatusInternalServerError, "storing message failed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	stream.SetHeaders(w.Header())
	flusher.Flush()

	pipeline := council.NewPipeline(s.client, cfg)
	pipelineReq := council.Request{
		Mode:     conv.ExecutionMode,
		History:  historyOf(conv),
		Content:  req.Content,
		Models:   conv.Models,
		Chairman: conv.Chairman,
	}
	needsTitle := conv.Title == store.DefaultTitle && len(conv.Messages) == 0

	s.notifier.RunStarted(id, council.NormalizeMode(conv.ExecutionMode), len(pipeline.Council(conv.Models)))

	var turn council.Turn
	sess := stream.NewSession(s.store, id)
	done := make(chan error, 1)
	go func() {
		done <- sess.Run(r.Context(), &turn, func(ctx context.Context, emit council.EmitFunc) error {
			if err := pipeline.Run(ctx, pipelineReq, &turn, emit); err != nil {
				return err
			}
			if needsTitle {
				s.generateTitle(ctx, pipeline, id, req.Content, emit)
			}
			return nil
		})
	}()

	for ev := range sess.Events() {
		if err := stream.WriteEvent(w, ev); err != nil {
			// Client is gone; keep draining so the session can finish
			// its cleanup undisturbed.
			continue
		}
		flusher.Flush()
	}

	switch err := <-done; {
	case err == nil:
		s.notifier.RunComplete(id, finalAnswer(&turn))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.Printf("[server] conversation %s: run cancelled", id)
		s.notifier.RunFailed(id, "cancelled")
	default:
		log.Printf("[server] conversation %s: run failed: %v", id, err)
		s.notifier.RunFailed(id, err.Error())
	}
}

// generateTitle is best-effort: a failed title never fails the run.
func (s *Server) generateTitle(ctx context.Context, p *council.Pipeline, id, content string, emit council.EmitFunc) {
	title, err := p.GenerateTitle(ctx, content)
	if err != nil {
		log.Printf("[server] conversation %s: title generation failed: %v", id, err)
		return
	}
	if err := s.store.UpdateTitle(id, title); err != nil {
		log.Printf("[server] conversation %s: storing title failed: %v", id, err)
		return
	}
	emit(council.Event{Type: council.EventTitleComplete, Title: title})
	s.notifier.TitleUpdated(id, title)
}

// historyOf converts stored messages to pipeline history. Assistant turns
// contribute their final answer: the synthesis when stage 3 ran, otherwise
// the first successful council response.
func historyOf(conv *store.Conversation) []models.Message {
	history := make([]models.Message, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if msg.Role == models.RoleUser {
			history = append(history, models.Message{Role: models.RoleUser, Content: msg.Content})
			continue
		}
		if content := assistantAnswer(msg); content != "" {
			history = append(history, models.Message{Role: models.RoleAssistant, Content: content})
		}
	}
	return history
}

func assistantAnswer(msg store.Message) string {
	if msg.Stage3 != nil && msg.Stage3.OK {
		return msg.Stage3.Content
	}
	for _, res := range msg.Stage1 {
		if res.OK {
			return res.Content
		}
	}
	return ""
}

func finalAnswer(turn *council.Turn) string {
	if turn.Stage3 != nil && turn.Stage3.OK {
		return turn.Stage3.Content
	}
	for _, res := range turn.Stage1 {
		if res.OK {
			return res.Content
		}
	}
	return ""
}
