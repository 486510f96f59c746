// internal/models/types.go
package models

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of provider-facing chat context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is the outcome of querying one model once. Provider failures are
// carried as OK=false with a descriptive Error rather than surfaced as a Go
// error, so one model's failure never aborts its siblings.
type Result struct {
	Model   string `json:"model"`
	Content string `json:"content"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func okResult(model, content string) Result {
	return Result{Model: model, Content: content, OK: true}
}

// ErrorResult converts a failure into a Result the pipeline can carry.
func ErrorResult(model string, err error) Result {
	return Result{Model: model, OK: false, Error: err.Error()}
}
