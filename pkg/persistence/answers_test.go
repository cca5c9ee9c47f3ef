package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phasedoc/pkg/answers"
	"phasedoc/pkg/proto"
)

func TestAnswerStoreAppendList(t *testing.T) {
	ctx := context.Background()
	store := NewAnswerStore(setupTestDB(t))

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := proto.Answer{QuestionID: "q1", Text: "first", CreatedAt: created, Metadata: map[string]string{"phase": "initial_inquiry"}}
	require.NoError(t, store.Append(ctx, "s1", first))
	require.NoError(t, store.Append(ctx, "s1", proto.NewAnswer("q2", "second")))
	require.NoError(t, store.Append(ctx, "s2", proto.NewAnswer("q1", "other session")))

	got, err := store.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, first, got[0])
	require.Equal(t, "q2", got[1].QuestionID)
	require.Nil(t, got[1].Metadata)
}

func TestAnswerStoreUnknownSession(t *testing.T) {
	got, err := NewAnswerStore(setupTestDB(t)).List(context.Background(), "nobody")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestAnswerStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewAnswerStore(setupTestDB(t))

	require.NoError(t, store.Append(ctx, "s1", proto.NewAnswer("q1", "a")))
	require.NoError(t, store.Append(ctx, "s2", proto.NewAnswer("q1", "b")))
	require.NoError(t, store.Clear(ctx, "s1"))

	got, err := store.List(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = store.List(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Appends after a clear start a fresh log.
	require.NoError(t, store.Append(ctx, "s1", proto.NewAnswer("q9", "again")))
	got, err = store.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "q9", got[0].QuestionID)
}

func TestAnswerStoreEmptySession(t *testing.T) {
	store := NewAnswerStore(setupTestDB(t))
	require.ErrorIs(t, store.Append(context.Background(), "", proto.NewAnswer("q", "a")), answers.ErrEmptySession)
	require.ErrorIs(t, store.Clear(context.Background(), ""), answers.ErrEmptySession)
}

func TestAnswerStoreConcurrentAppendsKeepOrderPerWriter(t *testing.T) {
	ctx := context.Background()
	store := NewAnswerStore(setupTestDB(t))

	const writers = 4
	const perWriter = 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = store.Append(ctx, "shared", proto.NewAnswer(fmt.Sprintf("w%d", w), fmt.Sprintf("%03d", i)))
			}
		}(w)
	}
	wg.Wait()

	got, err := store.List(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, got, writers*perWriter)

	last := map[string]string{}
	for _, a := range got {
		require.Greater(t, a.Text, last[a.QuestionID], "writer %s out of order", a.QuestionID)
		last[a.QuestionID] = a.Text
	}
}
