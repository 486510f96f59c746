// internal/models/models_test.go
package models

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"council/internal/config"
)

func TestOpenRouterQuery(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Model != "openai/gpt-5.1" {
			t.Errorf("Expected model openai/gpt-5.1, got %s", req.Model)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello from gateway"}},
			},
		})
	}))
	defer srv.Close()

	c := NewOpenRouter("sk-test", srv.URL)
	res := c.Query(context.Background(), "openai/gpt-5.1", []Message{{Role: RoleUser, Content: "hi"}}, 0.7)

	if !res.OK {
		t.Fatalf("Expected OK result, got error: %s", res.Error)
	}
	if res.Content != "hello from gateway" {
		t.Errorf("Unexpected content: %q", res.Content)
	}
	if res.Model != "openai/gpt-5.1" {
		t.Errorf("Result must carry the model id, got %q", res.Model)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
}

func TestOpenRouterProviderErrorBecomesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"no such model"}}`))
	}))
	defer srv.Close()

	c := NewOpenRouter("sk-test", srv.URL)
	res := c.Query(context.Background(), "nope", nil, 0.7)

	if res.OK {
		t.Fatal("Expected OK=false for HTTP 400")
	}
	if !strings.Contains(res.Error, "400") {
		t.Errorf("Error should mention the status, got %q", res.Error)
	}
}

func TestOpenRouterRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "second try"}},
			},
		})
	}))
	defer srv.Close()

	c := NewOpenRouter("sk-test", srv.URL)
	c.http.config.BaseDelay = 10 * time.Millisecond

	res := c.Query(context.Background(), "m", nil, 0.7)
	if !res.OK {
		t.Fatalf("Expected retry to succeed, got error: %s", res.Error)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
}

func TestOllamaQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected /api/chat, got %s", r.URL.Path)
		}
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("Expected non-streaming request")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"content": "local answer"},
		})
	}))
	defer srv.Close()

	c := NewOllama(strings.TrimPrefix(srv.URL, "http://"))
	res := c.Query(context.Background(), "llama3.1:latest", []Message{{Role: RoleUser, Content: "hi"}}, 0.7)

	if !res.OK {
		t.Fatalf("Expected OK result, got error: %s", res.Error)
	}
	if res.Content != "local answer" {
		t.Errorf("Unexpected content: %q", res.Content)
	}
}

func TestQueryHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can detect the
		// client disconnect and cancel r.Context(); otherwise srv.Close
		// deadlocks waiting on this handler.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewOpenRouter("sk-test", srv.URL)
	start := time.Now()
	res := c.Query(ctx, "m", nil, 0.7)

	if res.OK {
		t.Fatal("Expected cancelled query to fail")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Query did not honor context deadline")
	}
}

func TestNewSelectsVariant(t *testing.T) {
	cfg, err := config.LoadFile("/nonexistent")
	if err != nil {
		t.Fatal(err)
	}

	cfg.Router = config.RouterOpenRouter
	cfg.OpenRouter.APIKey = ""
	if _, err := New(cfg); err != config.ErrMissingAPIKey {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}

	cfg.OpenRouter.APIKey = "sk-test"
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "openrouter" {
		t.Errorf("Expected openrouter client, got %s", c.Name())
	}

	cfg.Router = config.RouterOllama
	c, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "ollama" {
		t.Errorf("Expected ollama client, got %s", c.Name())
	}
}
