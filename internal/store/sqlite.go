// internal/store/sqlite.go
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"council/internal/models"
)

// SQLiteStore keeps conversations in a single database file. Appends are
// plain transactional inserts, so the lost-update hazard of the JSON backend
// does not arise; the database serializes writers.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "council.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		execution_mode TEXT,
		models TEXT,
		chairman TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role TEXT NOT NULL,
		content TEXT,
		stage1 TEXT,
		stage2 TEXT,
		stage3 TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(id string, opts CreateOptions) (*Conversation, error) {
	var modelsJSON any
	if len(opts.Models) > 0 {
		data, err := json.Marshal(opts.Models)
		if err != nil {
			return nil, err
		}
		modelsJSON = string(data)
	}

	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, execution_mode, models, chairman) VALUES (?, ?, ?, ?, ?)`,
		id, DefaultTitle, nullIfEmpty(opts.ExecutionMode), modelsJSON, nullIfEmpty(opts.Chairman),
	)
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

func (s *SQLiteStore) Get(id string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, title, execution_mode, models, chairman, created_at, updated_at
		 FROM conversations WHERE id = ?`, id,
	)

	var conv Conversation
	var mode, modelsJSON, chairman sql.NullString
	err := row.Scan(&conv.ID, &conv.Title, &mode, &modelsJSON, &chairman, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.ExecutionMode = mode.String
	conv.Chairman = chairman.String
	if modelsJSON.Valid {
		if err := json.Unmarshal([]byte(modelsJSON.String), &conv.Models); err != nil {
			return nil, fmt.Errorf("corrupt models column for %s: %w", id, err)
		}
	}

	msgs, err := s.messages(id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return &conv, nil
}

func (s *SQLiteStore) messages(id string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT role, content, stage1, stage2, stage3, metadata, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var content, stage1, stage2, stage3, metadata sql.NullString
		if err := rows.Scan(&m.Role, &content, &stage1, &stage2, &stage3, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Content = content.String
		if err := unmarshalColumn(stage1, &m.Stage1); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(stage2, &m.Stage2); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(stage3, &m.Stage3); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(metadata, &m.Metadata); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) List() ([]Summary, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.title, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		 FROM conversations c ORDER BY c.updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Title, &sm.CreatedAt, &sm.UpdatedAt, &sm.MessageCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// appendMessage inserts one message and bumps updated_at in one transaction.
func (s *SQLiteStore) appendMessage(id string, msg Message) (*Conversation, error) {
	stage1, err := marshalColumn(msg.Stage1 != nil, msg.Stage1)
	if err != nil {
		return nil, err
	}
	stage2, err := marshalColumn(msg.Stage2 != nil, msg.Stage2)
	if err != nil {
		return nil, err
	}
	stage3, err := marshalColumn(msg.Stage3 != nil, msg.Stage3)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalColumn(msg.Metadata != nil, msg.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists string
	if err := tx.QueryRow(`SELECT id FROM conversations WHERE id = ?`, id).Scan(&exists); err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(
		`INSERT INTO messages (conversation_id, role, content, stage1, stage2, stage3, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, msg.Role, nullIfEmpty(msg.Content), stage1, stage2, stage3, metadata,
	); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.Get(id)
}

func (s *SQLiteStore) AppendUser(id, content string) (*Conversation, error) {
	return s.appendMessage(id, Message{
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *SQLiteStore) AppendAssistant(id string, stage1, stage2 []models.Result, stage3 *models.Result, metadata map[string]any) (*Conversation, error) {
	return s.appendMessage(id, assistantMessage(stage1, stage2, stage3, metadata))
}

func (s *SQLiteStore) UpdateTitle(id, title string) error {
	res, err := s.db.Exec(
		`UPDATE conversations SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		title, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalColumn(present bool, v any) (any, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalColumn(col sql.NullString, dst any) error {
	if !col.Valid {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}
