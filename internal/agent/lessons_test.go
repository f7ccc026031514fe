package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quayside/browserpilot/internal/config"
)

func TestMemoryLessonStoreBoundsPerHost(t *testing.T) {
	store := NewMemoryLessonStore(3, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Add(ctx, "example.com", fmt.Sprintf("lesson %d", i)))
	}

	lessons, err := store.ForHost(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, lessons, 3)
	// Oldest evicted, order preserved.
	assert.Equal(t, "lesson 2", lessons[0])
	assert.Equal(t, "lesson 4", lessons[2])
}

func TestMemoryLessonStoreIsolatesHosts(t *testing.T) {
	store := NewMemoryLessonStore(10, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "a.com", "lesson for a"))
	require.NoError(t, store.Add(ctx, "b.com", "lesson for b"))

	a, err := store.ForHost(ctx, "a.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"lesson for a"}, a)

	none, err := store.ForHost(ctx, "c.com")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryLessonStoreIgnoresBlankLessons(t *testing.T) {
	store := NewMemoryLessonStore(10, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "example.com", "   "))
	lessons, err := store.ForHost(ctx, "example.com")
	require.NoError(t, err)
	assert.Empty(t, lessons)
}

func TestMemoryLessonStoreClear(t *testing.T) {
	store := NewMemoryLessonStore(10, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "example.com", "something"))
	require.NoError(t, store.Clear(ctx))

	lessons, err := store.ForHost(ctx, "example.com")
	require.NoError(t, err)
	assert.Empty(t, lessons)
}

func TestNewLessonStoreFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	store, err := NewLessonStore(context.Background(), config.LessonsConfig{Backend: "in-memory", MaxPerHost: 5}, logger)
	require.NoError(t, err)
	assert.IsType(t, &memoryLessonStore{}, store)

	// Empty backend falls back to in-memory.
	store, err = NewLessonStore(context.Background(), config.LessonsConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &memoryLessonStore{}, store)

	_, err = NewLessonStore(context.Background(), config.LessonsConfig{Backend: "redis"}, logger)
	require.Error(t, err)
}
