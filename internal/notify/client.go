// internal/notify/client.go
// Fire-and-forget lifecycle notifications for external listeners (webhooks,
// local daemons). Delivery is best-effort: a listener that is down never
// slows a council run.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"
)

const (
	EventRunStarted   = "run_started"
	EventRunComplete  = "run_complete"
	EventRunFailed    = "run_failed"
	EventTitleUpdated = "title_updated"
)

// Event is the webhook payload.
type Event struct {
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	Timestamp int64             `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// Client posts events to a single configured endpoint. A client with an
// empty endpoint is valid and emits nothing.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 2 * time.Second, // short timeout for fire-and-forget
		},
	}
}

// Emit sends an event asynchronously. It never blocks the caller.
func (c *Client) Emit(eventType string, data map[string]string) {
	if c == nil || c.endpoint == "" {
		return
	}

	event := Event{
		Type:      eventType,
		Source:    "council",
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
	go c.send(event)
}

func (c *Client) send(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("[notify] failed to marshal event: %v", err)
		return
	}

	resp, err := c.httpClient.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		// Connection failures are expected when no listener is running.
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[notify] event rejected with status %d", resp.StatusCode)
	}
}

// RunStarted reports that a council run began for a conversation.
func (c *Client) RunStarted(conversationID, mode string, modelCount int) {
	c.Emit(EventRunStarted, map[string]string{
		"conversation_id": conversationID,
		"mode":            mode,
		"models":          strconv.Itoa(modelCount),
	})
}

// RunComplete reports a finished run with the synthesized answer, truncated.
func (c *Client) RunComplete(conversationID, answer string) {
	c.Emit(EventRunComplete, map[string]string{
		"conversation_id": conversationID,
		"answer":          truncate(answer, 200),
	})
}

// RunFailed reports a run that produced no stored turn.
func (c *Client) RunFailed(conversationID, reason string) {
	c.Emit(EventRunFailed, map[string]string{
		"conversation_id": conversationID,
		"reason":          truncate(reason, 200),
	})
}

// TitleUpdated reports a freshly generated conversation title.
func (c *Client) TitleUpdated(conversationID, title string) {
	c.Emit(EventTitleUpdated, map[string]string{
		"conversation_id": conversationID,
		"title":           title,
	})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
