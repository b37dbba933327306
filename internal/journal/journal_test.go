package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"robotcontrol/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) (*Journal, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, clk
}

func TestJournal_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	j, clk := openTest(t)

	first, err := j.Record(ctx, Entry{Robot: "unitree_go2", Raw: "stand up", Action: "stand", Success: true, Message: "Standing"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, clk.Now(), first.CreatedAt)

	clk.Advance(time.Minute)
	_, err = j.Record(ctx, Entry{Robot: "unitree_go2", Raw: "fly", Action: "unknown", Message: "unknown command: fly"})
	require.NoError(t, err)

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fly", entries[0].Raw)
	assert.False(t, entries[0].Success)
	assert.Equal(t, first.ID, entries[1].ID)
	assert.True(t, entries[1].Success)
	assert.Equal(t, first.CreatedAt, entries[1].CreatedAt)

	entries, err = j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJournal_Prune(t *testing.T) {
	ctx := context.Background()
	j, _ := openTest(t)

	for _, raw := range []string{"a", "b", "c", "d", "e"} {
		_, err := j.Record(ctx, Entry{Raw: raw, Action: "stop"})
		require.NoError(t, err)
	}

	removed, err := j.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "e", entries[0].Raw)
	assert.Equal(t, "d", entries[1].Raw)
}

func TestJournal_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	clk := clock.NewMockClock(time.Unix(0, 0))

	j, err := Open(path, clk)
	require.NoError(t, err)
	_, err = j.Record(ctx, Entry{Raw: "sit down", Action: "sit", Success: true})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path, clk)
	require.NoError(t, err)
	defer j.Close()
	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJournal_RecentCapsLimit(t *testing.T) {
	ctx := context.Background()
	j, _ := openTest(t)

	for i := 0; i < 3; i++ {
		_, err := j.Record(ctx, Entry{Raw: "stop", Action: "stop", Success: true})
		require.NoError(t, err)
	}

	entries, err := j.Recent(ctx, 2000000000)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.LessOrEqual(t, cap(entries), MaxRecent)

	entries, err = j.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_RecentRejectsMalformedTimestamp(t *testing.T) {
	ctx := context.Background()
	j, _ := openTest(t)

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO commands (id, created_at, raw, action) VALUES ('bad-row', 'yesterday', 'stop', 'stop')`)
	require.NoError(t, err)

	_, err = j.Recent(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad-row")
}
