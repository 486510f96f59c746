// internal/store/store.go
package store

import (
	"errors"
	"fmt"
	"time"

	"council/internal/config"
	"council/internal/models"
)

var (
	ErrNotFound = errors.New("conversation not found")
	ErrExists   = errors.New("conversation already exists")
)

// Message is one turn of a conversation. Stage fields are nil when the
// execution mode skipped the stage, and nil serializes as field-absent —
// readers key off presence, so "not run" must never appear as an empty list.
type Message struct {
	Role      string          `json:"role"`
	Content   string          `json:"content,omitempty"`
	Stage1    []models.Result `json:"stage1,omitempty"`
	Stage2    []models.Result `json:"stage2,omitempty"`
	Stage3    *models.Result  `json:"stage3,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Conversation is the stored unit. ExecutionMode may be empty on
// conversations that predate modes; readers treat empty as full.
type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	ExecutionMode string    `json:"execution_mode,omitempty"`
	Models        []string  `json:"models,omitempty"`
	Chairman      string    `json:"chairman,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Messages      []Message `json:"messages"`
}

// Summary is the listing view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// CreateOptions are the conversation-level settings fixed at creation.
type CreateOptions struct {
	ExecutionMode string
	Models        []string
	Chairman      string
}

// Store is the sole arbiter of conversation state. Implementations must make
// each append atomic with respect to other writers of the same id: two
// concurrent appends may land in either order but neither may be lost.
// Appends to different ids must not serialize against each other.
type Store interface {
	Create(id string, opts CreateOptions) (*Conversation, error)
	Get(id string) (*Conversation, error)
	List() ([]Summary, error)
	Delete(id string) error

	AppendUser(id, content string) (*Conversation, error)
	AppendAssistant(id string, stage1, stage2 []models.Result, stage3 *models.Result, metadata map[string]any) (*Conversation, error)
	UpdateTitle(id, title string) error

	Close() error
}

// DefaultTitle is used until the chairman produces a real one.
const DefaultTitle = "New Conversation"

// Open builds the configured backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		return OpenSQLite(cfg.Storage.DataDir)
	case config.StorageJSON:
		return OpenJSON(cfg.Storage.DataDir)
	default:
		return nil, fmt.Errorf("%w: got %q", config.ErrInvalidStorage, cfg.Storage.Backend)
	}
}

func assistantMessage(stage1, stage2 []models.Result, stage3 *models.Result, metadata map[string]any) Message {
	msg := Message{
		Role:      models.RoleAssistant,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	// Copy only stages that ran; a nil field stays absent on the wire.
	if stage1 != nil {
		msg.Stage1 = stage1
	}
	if stage2 != nil {
		msg.Stage2 = stage2
	}
	if stage3 != nil {
		msg.Stage3 = stage3
	}
	return msg
}
