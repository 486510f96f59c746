// internal/store/json.go
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"council/internal/models"
)

// JSONStore keeps one file per conversation under a data directory.
//
// Concurrency: every mutation runs the whole read-modify-write cycle under
// that conversation's lock. A split read-lock/write-lock scheme would let two
// writers read the same snapshot and drop one append, so the lock is held
// from before the read until after the write. Locks are per id; writers of
// different conversations never contend.
type JSONStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var validConversationID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func OpenJSON(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &JSONStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *JSONStore) path(id string) (string, error) {
	if !validConversationID.MatchString(id) {
		return "", fmt.Errorf("invalid conversation id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *JSONStore) read(id string) (*Conversation, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("corrupt conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *JSONStore) write(conv *Conversation) error {
	path, err := s.path(conv.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(path, data, 0644)
}

func (s *JSONStore) Create(id string, opts CreateOptions) (*Conversation, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.read(id); err == nil {
		return nil, ErrExists
	} else if err != ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:            id,
		Title:         DefaultTitle,
		ExecutionMode: opts.ExecutionMode,
		Models:        opts.Models,
		Chairman:      opts.Chairman,
		CreatedAt:     now,
		UpdatedAt:     now,
		Messages:      []Message{},
	}
	if err := s.write(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *JSONStore) Get(id string) (*Conversation, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return s.read(id)
}

func (s *JSONStore) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		conv, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Skip unreadable files rather than failing the whole listing.
			continue
		}
		summaries = append(summaries, Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *JSONStore) Delete(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

// update runs fn on the current state and persists the result, all under the
// conversation's lock.
func (s *JSONStore) update(id string, fn func(*Conversation)) (*Conversation, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.read(id)
	if err != nil {
		return nil, err
	}
	fn(conv)
	conv.UpdatedAt = time.Now().UTC()
	if err := s.write(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *JSONStore) AppendUser(id, content string) (*Conversation, error) {
	return s.update(id, func(conv *Conversation) {
		conv.Messages = append(conv.Messages, Message{
			Role:      models.RoleUser,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		})
	})
}

func (s *JSONStore) AppendAssistant(id string, stage1, stage2 []models.Result, stage3 *models.Result, metadata map[string]any) (*Conversation, error) {
	return s.update(id, func(conv *Conversation) {
		conv.Messages = append(conv.Messages, assistantMessage(stage1, stage2, stage3, metadata))
	})
}

func (s *JSONStore) UpdateTitle(id, title string) error {
	_, err := s.update(id, func(conv *Conversation) {
		conv.Title = title
	})
	return err
}
