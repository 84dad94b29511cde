package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/honganh1206/streamchat/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStores(t *testing.T) map[string]Store {
	t.Helper()

	dir := t.TempDir()

	bunt, err := OpenBunt(filepath.Join(dir, "bunt", "conversations.db"))
	require.NoError(t, err)

	sqlite, err := OpenSQLite(filepath.Join(dir, "sqlite", "conversations.sqlite"))
	require.NoError(t, err)

	stores := map[string]Store{
		BackendBunt:   bunt,
		BackendSQLite: sqlite,
		BackendMemory: NewMemory(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func sampleMessages() []conversation.Message {
	created := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	return []conversation.Message{
		{Role: conversation.AssistantRole, Content: "欢迎\n\n", Meta: &conversation.Meta{Kind: conversation.KindIntro}, Sequence: 0, CreatedAt: created},
		{Role: conversation.UserRole, Content: "你好", Sequence: 1, CreatedAt: created.Add(time.Second)},
		{Role: conversation.AssistantRole, Content: "## 回答\n\n正文\n\n", Streaming: true, Sequence: 2, CreatedAt: created.Add(2 * time.Second)},
		{Role: conversation.AssistantRole, Content: "失败", Failed: true, Sequence: 3, CreatedAt: created.Add(3 * time.Second)},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, s := range createTestStores(t) {
		t.Run(name, func(t *testing.T) {
			msgs := sampleMessages()
			require.NoError(t, s.Save("conv-1", msgs))

			loaded, err := s.Load("conv-1")
			require.NoError(t, err)
			require.Len(t, loaded, len(msgs))
			for i := range msgs {
				assert.Equal(t, msgs[i].Role, loaded[i].Role)
				assert.Equal(t, msgs[i].Content, loaded[i].Content)
				assert.Equal(t, msgs[i].Streaming, loaded[i].Streaming)
				assert.Equal(t, msgs[i].Failed, loaded[i].Failed)
				assert.Equal(t, msgs[i].Meta, loaded[i].Meta)
				assert.Equal(t, msgs[i].Sequence, loaded[i].Sequence)
				assert.True(t, msgs[i].CreatedAt.Equal(loaded[i].CreatedAt))
			}
		})
	}
}

func TestStore_ActiveID(t *testing.T) {
	for name, s := range createTestStores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.ActiveID()
			require.NoError(t, err)
			assert.Empty(t, id)

			require.NoError(t, s.Save("a", sampleMessages()[:1]))
			require.NoError(t, s.Save("b", sampleMessages()[:2]))

			id, err = s.ActiveID()
			require.NoError(t, err)
			assert.Equal(t, "b", id)

			require.NoError(t, s.Save("a", sampleMessages()))
			id, _ = s.ActiveID()
			assert.Equal(t, "a", id)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, s := range createTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load("nope")
			assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
		})
	}
}

func TestStore_SaveReplacesMessages(t *testing.T) {
	for name, s := range createTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save("c", sampleMessages()))
			require.NoError(t, s.Save("c", nil))

			loaded, err := s.Load("c")
			require.NoError(t, err)
			assert.Empty(t, loaded)
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, s := range createTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save("one", sampleMessages()[:1]))
			require.NoError(t, s.Save("two", sampleMessages()))

			list, err := s.List()
			require.NoError(t, err)
			require.Len(t, list, 2)

			counts := map[string]int{}
			for _, meta := range list {
				counts[meta.ID] = meta.MessageCount
				assert.False(t, meta.CreatedAt.IsZero())
			}
			assert.Equal(t, map[string]int{"one": 1, "two": 4}, counts)
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(BackendBunt, ":memory:")
	require.NoError(t, err)
	assert.IsType(t, &BuntStore{}, s)
	s.Close()

	_, err = Open("redis", "")
	assert.Error(t, err)
}

func TestMemoryStore_Isolation(t *testing.T) {
	s := NewMemory()
	msgs := sampleMessages()
	require.NoError(t, s.Save("conv-1", msgs))

	msgs[0].Meta.Kind = "changed"
	loaded, err := s.Load("conv-1")
	require.NoError(t, err)
	assert.Equal(t, conversation.KindIntro, loaded[0].Meta.Kind)

	loaded[0].Meta.Kind = "changed"
	again, err := s.Load("conv-1")
	require.NoError(t, err)
	assert.Equal(t, conversation.KindIntro, again[0].Meta.Kind)
}
