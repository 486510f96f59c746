// internal/store/store_test.go
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"council/internal/models"
)

// Both backends must satisfy the same contract, so every test runs against
// each of them.
func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	jsonStore, err := OpenJSON(t.TempDir())
	require.NoError(t, err)
	sqliteStore, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		jsonStore.Close()
		sqliteStore.Close()
	})
	return map[string]Store{"json": jsonStore, "sqlite": sqliteStore}
}

func TestCreateGetRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			conv, err := s.Create("conv-1", CreateOptions{
				ExecutionMode: "chat_only",
				Models:        []string{"m1", "m2"},
				Chairman:      "chair",
			})
			require.NoError(t, err)
			assert.Equal(t, DefaultTitle, conv.Title)

			loaded, err := s.Get("conv-1")
			require.NoError(t, err)
			assert.Equal(t, "chat_only", loaded.ExecutionMode)
			assert.Equal(t, []string{"m1", "m2"}, loaded.Models)
			assert.Equal(t, "chair", loaded.Chairman)
			assert.Empty(t, loaded.Messages)

			_, err = s.Create("conv-1", CreateOptions{})
			assert.Error(t, err, "duplicate create must fail")
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get("nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestExecutionModeAbsentOnOldConversations(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create("old-conv", CreateOptions{})
			require.NoError(t, err)

			loaded, err := s.Get("old-conv")
			require.NoError(t, err)
			assert.Empty(t, loaded.ExecutionMode, "absent mode must read back as empty, callers default it to full")
		})
	}
}

func TestAppendAssistantOmitsSkippedStages(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create("conv-2", CreateOptions{ExecutionMode: "chat_only"})
			require.NoError(t, err)

			stage1 := []models.Result{{Model: "m1", Content: "r1", OK: true}}
			conv, err := s.AppendAssistant("conv-2", stage1, nil, nil, map[string]any{"execution_mode": "chat_only"})
			require.NoError(t, err)

			msg := conv.Messages[len(conv.Messages)-1]
			require.Equal(t, models.RoleAssistant, msg.Role)
			assert.Len(t, msg.Stage1, 1)
			assert.Nil(t, msg.Stage2)
			assert.Nil(t, msg.Stage3)

			// Presence is a wire-format invariant, so check the raw JSON too.
			data, err := json.Marshal(msg)
			require.NoError(t, err)
			var raw map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(data, &raw))
			assert.Contains(t, raw, "stage1")
			assert.NotContains(t, raw, "stage2")
			assert.NotContains(t, raw, "stage3")
		})
	}
}

func TestAppendAssistantFullTurn(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create("conv-3", CreateOptions{})
			require.NoError(t, err)

			stage1 := []models.Result{{Model: "m1", Content: "a", OK: true}}
			stage2 := []models.Result{{Model: "m1", Content: "FINAL RANKING:\n1. Response A", OK: true}}
			stage3 := &models.Result{Model: "chair", Content: "final", OK: true}

			_, err = s.AppendAssistant("conv-3", stage1, stage2, stage3, map[string]any{"execution_mode": "full"})
			require.NoError(t, err)

			loaded, err := s.Get("conv-3")
			require.NoError(t, err)
			msg := loaded.Messages[0]
			assert.Len(t, msg.Stage1, 1)
			assert.Len(t, msg.Stage2, 1)
			require.NotNil(t, msg.Stage3)
			assert.Equal(t, "final", msg.Stage3.Content)
			assert.Equal(t, "full", msg.Metadata["execution_mode"])
		})
	}
}

func TestConcurrentAppendsSameConversationLoseNothing(t *testing.T) {
	const writers = 16

	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create("contended", CreateOptions{})
			require.NoError(t, err)

			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					<-start
					_, err := s.AppendUser("contended", fmt.Sprintf("message-%02d", n))
					assert.NoError(t, err)
				}(i)
			}
			close(start)
			wg.Wait()

			loaded, err := s.Get("contended")
			require.NoError(t, err)

			var got []string
			for _, m := range loaded.Messages {
				got = append(got, m.Content)
			}
			sort.Strings(got)

			var want []string
			for i := 0; i < writers; i++ {
				want = append(want, fmt.Sprintf("message-%02d", i))
			}
			assert.Equal(t, want, got, "every concurrent append must survive")
		})
	}
}

func TestConcurrentAssistantAppends(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create("assist", CreateOptions{})
			require.NoError(t, err)

			var wg sync.WaitGroup
			for _, resp := range []string{"r1", "r2"} {
				wg.Add(1)
				go func(resp string) {
					defer wg.Done()
					_, err := s.AppendAssistant("assist",
						[]models.Result{{Model: "m", Content: resp, OK: true}},
						nil, nil, map[string]any{"execution_mode": "chat_only"})
					assert.NoError(t, err)
				}(resp)
			}
			wg.Wait()

			loaded, err := s.Get("assist")
			require.NoError(t, err)
			require.Len(t, loaded.Messages, 2)

			var got []string
			for _, m := range loaded.Messages {
				require.Len(t, m.Stage1, 1)
				got = append(got, m.Stage1[0].Content)
			}
			sort.Strings(got)
			assert.Equal(t, []string{"r1", "r2"}, got)
		})
	}
}

func TestAppendsToDifferentConversationsDoNotInterfere(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				_, err := s.Create(fmt.Sprintf("para-%d", i), CreateOptions{})
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				for j := 0; j < 4; j++ {
					wg.Add(1)
					go func(conv, n int) {
						defer wg.Done()
						_, err := s.AppendUser(fmt.Sprintf("para-%d", conv), fmt.Sprintf("m%d", n))
						assert.NoError(t, err)
					}(i, j)
				}
			}
			wg.Wait()

			for i := 0; i < 4; i++ {
				loaded, err := s.Get(fmt.Sprintf("para-%d", i))
				require.NoError(t, err)
				assert.Len(t, loaded.Messages, 4)
			}
		})
	}
}

func TestPriorTurnsAreNeverMutated(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create("history", CreateOptions{})
			require.NoError(t, err)

			_, err = s.AppendUser("history", "first question")
			require.NoError(t, err)
			_, err = s.AppendAssistant("history",
				[]models.Result{{Model: "m", Content: "first answer", OK: true}},
				nil, nil, nil)
			require.NoError(t, err)

			before, err := s.Get("history")
			require.NoError(t, err)

			_, err = s.AppendUser("history", "second question")
			require.NoError(t, err)

			after, err := s.Get("history")
			require.NoError(t, err)
			require.Len(t, after.Messages, 3)
			assert.Equal(t, before.Messages[0].Content, after.Messages[0].Content)
			assert.Equal(t, before.Messages[1].Stage1, after.Messages[1].Stage1)
		})
	}
}

func TestUpdateTitleAndList(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create("titled", CreateOptions{})
			require.NoError(t, err)
			require.NoError(t, s.UpdateTitle("titled", "Go vs Rust"))

			summaries, err := s.List()
			require.NoError(t, err)
			require.Len(t, summaries, 1)
			assert.Equal(t, "Go vs Rust", summaries[0].Title)

			assert.ErrorIs(t, s.UpdateTitle("missing", "x"), ErrNotFound)
		})
	}
}

func TestDelete(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create("gone", CreateOptions{})
			require.NoError(t, err)
			require.NoError(t, s.Delete("gone"))
			_, err = s.Get("gone")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete("gone"), ErrNotFound)
		})
	}
}

func TestJSONStoreRejectsPathTraversal(t *testing.T) {
	s, err := OpenJSON(t.TempDir())
	require.NoError(t, err)
	_, err = s.Create("../escape", CreateOptions{})
	assert.Error(t, err)
}

func TestJSONStoreWritesAreAtomicOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenJSON(dir)
	require.NoError(t, err)

	_, err = s.Create("disk", CreateOptions{})
	require.NoError(t, err)
	_, err = s.AppendUser("disk", "hello")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may linger")

	data, err := os.ReadFile(filepath.Join(dir, "disk.json"))
	require.NoError(t, err)
	var conv Conversation
	require.NoError(t, json.Unmarshal(data, &conv))
	assert.Len(t, conv.Messages, 1)
}
