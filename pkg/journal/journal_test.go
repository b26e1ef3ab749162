package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

func openTestStore(t *testing.T) (*Store, *event.Registry) {
	t.Helper()
	reg := event.NewRegistry()
	require.NoError(t, reg.Register(event.Schema{
		Type:   "ping",
		Fields: map[string]event.FieldSpec{"value": {Type: event.FieldInt, Required: true}},
	}))

	store, err := Open(filepath.Join(t.TempDir(), "journal.db"), reg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, reg
}

func TestAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	store, reg := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := reg.New("ping", map[string]any{"value": i}, event.WithSender("a"))
		require.NoError(t, err)
		ids = append(ids, rec.ID())
		require.NoError(t, store.Append(ctx, "a", rec))
	}

	got, err := store.Events(ctx, core.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rec := range got {
		assert.Equal(t, ids[i], rec.ID(), "replay preserves append order")
		v, _ := rec.Field("value")
		assert.Equal(t, int64(i), v)
	}

	// Restartable: the same filter replays the same sequence.
	again, err := store.Events(ctx, core.Filter{})
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.Equal(t, got[0].ID(), again[0].ID())
}

func TestFilteredReads(t *testing.T) {
	ctx := context.Background()
	store, reg := openTestStore(t)

	for _, pid := range []string{"a", "b", "a"} {
		rec, err := reg.New("ping", map[string]any{"value": 1}, event.WithSender(pid))
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, pid, rec))
	}

	byParticipant, err := store.Events(ctx, core.Filter{ParticipantID: "a"})
	require.NoError(t, err)
	assert.Len(t, byParticipant, 2)

	limited, err := store.Events(ctx, core.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := store.Events(ctx, core.Filter{EventType: "pong"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLimitKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store, reg := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := reg.New("ping", map[string]any{"value": i}, event.WithSender("a"))
		require.NoError(t, err)
		ids = append(ids, rec.ID())
		require.NoError(t, store.Append(ctx, "a", rec))
	}

	// Limit keeps the newest entries, still in append order.
	tail, err := store.Events(ctx, core.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, ids[1], tail[0].ID())
	assert.Equal(t, ids[2], tail[1].ID())
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := event.NewRegistry()
	require.NoError(t, reg.Register(event.Schema{
		Type:   "ping",
		Fields: map[string]event.FieldSpec{"value": {Type: event.FieldInt, Required: true}},
	}))

	path := filepath.Join(t.TempDir(), "journal.db")
	first, err := Open(path, reg)
	require.NoError(t, err)

	rec, err := reg.New("ping", map[string]any{"value": 1})
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, "a", rec))
	require.NoError(t, first.Close())

	// Reopening applies the schema again without clobbering data.
	second, err := Open(path, reg)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Events(ctx, core.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
